package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DriveScale maps a unit speed onto motor power.
const DriveScale = 1000

// ErrBadCommand is returned for a line that is not a drive command.
var ErrBadCommand = errors.New("bad_command")

// Drive is a differential drive set point in motor power units,
// -DriveScale..DriveScale.
type Drive struct {
	Left  int16
	Right int16
}

// ParseDrive reads a "left,right" line of unit speeds, each clamped to
// [-1, 1] and scaled by DriveScale.
func ParseDrive(line string) (Drive, error) {
	rawLeft, rawRight, ok := strings.Cut(strings.TrimSpace(line), ",")
	if !ok {
		return Drive{}, errors.Wrapf(ErrBadCommand, "%q: want left,right", line)
	}
	left, err := parseUnit(rawLeft)
	if err != nil {
		return Drive{}, errors.Wrapf(ErrBadCommand, "%q: left: %v", line, err)
	}
	right, err := parseUnit(rawRight)
	if err != nil {
		return Drive{}, errors.Wrapf(ErrBadCommand, "%q: right: %v", line, err)
	}
	return Drive{Left: left, Right: right}, nil
}

func parseUnit(s string) (int16, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, errors.New("not a number")
	}
	v = math.Max(-1, math.Min(1, v))
	return int16(v * DriveScale), nil
}

func (d Drive) String() string {
	return fmt.Sprintf("left = %d, right = %d", d.Left, d.Right)
}
