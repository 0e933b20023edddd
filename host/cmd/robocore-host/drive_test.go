package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"robocore/core"
)

type captureDev struct {
	mu  sync.Mutex
	out bytes.Buffer
}

func (d *captureDev) Printf(format string, args ...interface{}) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, _ := fmt.Fprintf(&d.out, format, args...)
	return n
}

func (d *captureDev) Vprintf(format string, args []interface{}) int {
	return d.Printf(format, args...)
}

func (d *captureDev) Write(p []byte, _ uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, _ := d.out.Write(p)
	return n
}

func (d *captureDev) Read([]byte, uint32) int { return 0 }

func (d *captureDev) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.String()
}

func TestServeDriveEchoesSetPoints(t *testing.T) {
	sys, err := core.New(core.Config{Logger: zaptest.NewLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	dev := &captureDev{}
	sys.SetLogDev(dev)

	input := strings.NewReader("0.5,-0.25\r\n\r\nforward\n" + strings.Repeat("x", 1100) + "\n2,-2\n")
	read := func(p []byte, _ uint32) int {
		n, _ := input.Read(p)
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
		return n
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = serveDrive(ctx, sys, read, 10, zaptest.NewLogger(t))
	test.That(t, err, test.ShouldEqual, context.DeadlineExceeded)

	out := dev.String()
	test.That(t, out, test.ShouldStartWith, "left = 500, right = -250\n?\n")
	test.That(t, out, test.ShouldEndWith, "left = 1000, right = -1000\n")
}
