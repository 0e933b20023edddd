package protocol

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

// feed serves bytes one at a time, with a zero filler between each to
// mimic a port that reports "no data yet".
func feed(data string) ReadFunc {
	var src []byte
	for i := 0; i < len(data); i++ {
		src = append(src, 0x00, data[i])
	}
	return func(p []byte, _ uint32) int {
		if len(src) == 0 {
			return 0
		}
		p[0] = src[0]
		src = src[1:]
		return 1
	}
}

func TestReadLineTerminators(t *testing.T) {
	r := NewLineReader(feed("0.5,-0.25\r\nstop\nlast\r"), 10)
	ctx := context.Background()

	for _, want := range []string{"0.5,-0.25", "stop", "last"} {
		got, err := r.ReadLine(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, want)
	}
}

func TestReadLineTooLong(t *testing.T) {
	r := NewLineReader(feed(strings.Repeat("x", MaxLineLength+1)+"\n"), 10)
	_, err := r.ReadLine(context.Background())
	test.That(t, errors.Is(err, ErrLineTooLong), test.ShouldBeTrue)

	r = NewLineReader(feed(strings.Repeat("y", MaxLineLength)+"\n"), 10)
	got, err := r.ReadLine(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, strings.Repeat("y", MaxLineLength))
}

func TestReadLineHonoursContext(t *testing.T) {
	r := NewLineReader(func([]byte, uint32) int {
		time.Sleep(time.Millisecond)
		return 0
	}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ReadLine(ctx)
	test.That(t, err, test.ShouldEqual, context.DeadlineExceeded)
}

func TestReadLineFromBuffer(t *testing.T) {
	src := bytes.NewBufferString("a\r\n\r\nb\n")
	r := NewLineReader(func(p []byte, _ uint32) int {
		n, _ := src.Read(p)
		return n
	}, 0)
	ctx := context.Background()
	for _, want := range []string{"a", "", "b"} {
		got, err := r.ReadLine(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, want)
	}
}

func TestParseDrive(t *testing.T) {
	d, err := ParseDrive("0.5,-0.25")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldResemble, Drive{Left: 500, Right: -250})

	d, err = ParseDrive(" 3 , -7 ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldResemble, Drive{Left: 1000, Right: -1000})

	for _, bad := range []string{"", "1", "a,b", "1,", "NaN,0"} {
		_, err := ParseDrive(bad)
		test.That(t, errors.Is(err, ErrBadCommand), test.ShouldBeTrue)
	}
}
