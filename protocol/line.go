package protocol

import (
	"context"

	"github.com/pkg/errors"
)

// MaxLineLength bounds one line, terminator excluded.
const MaxLineLength = 1024

// ErrLineTooLong is returned when no terminator arrives within
// MaxLineLength bytes.
var ErrLineTooLong = errors.New("line_too_long")

// ReadFunc reads into p, waiting at most timeoutMs, and returns how many
// bytes it got. Zero means nothing arrived.
type ReadFunc func(p []byte, timeoutMs uint32) int

// LineReader assembles text lines from a byte source one byte at a time.
// A 0x00 byte is the source's "no data yet" filler and is skipped. A
// line ends at '\n' or at '\r'; a '\n' straight after '\r' belongs to
// the same terminator and is dropped.
type LineReader struct {
	read      ReadFunc
	timeoutMs uint32
	buf       []byte
	afterCR   bool
}

// NewLineReader reads through read, waiting timeoutMs per byte.
func NewLineReader(read ReadFunc, timeoutMs uint32) *LineReader {
	return &LineReader{read: read, timeoutMs: timeoutMs, buf: make([]byte, 0, 64)}
}

// ReadLine returns the next line without its terminator. It keeps
// polling the source until a terminator arrives or ctx ends.
func (r *LineReader) ReadLine(ctx context.Context) (string, error) {
	r.buf = r.buf[:0]
	var b [1]byte
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if r.read(b[:], r.timeoutMs) == 0 || b[0] == 0x00 {
			continue
		}
		afterCR := r.afterCR
		r.afterCR = false
		switch b[0] {
		case '\r':
			r.afterCR = true
			return string(r.buf), nil
		case '\n':
			if afterCR {
				continue
			}
			return string(r.buf), nil
		}
		if len(r.buf) == MaxLineLength {
			return "", errors.Wrapf(ErrLineTooLong, "no terminator in %d bytes", MaxLineLength)
		}
		r.buf = append(r.buf, b[0])
	}
}
