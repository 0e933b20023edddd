package i2c

import (
	"github.com/pkg/errors"

	"robocore/bus"
	"robocore/core"
)

// Scan probes every 7-bit address outside the reserved ranges with an
// empty write and returns the ones that acked. A NACK is not an error;
// anything else aborts the scan.
func Scan(b bus.I2C) ([]uint8, error) {
	var found []uint8
	for addr := uint8(0x08); addr <= 0x77; addr++ {
		err := b.Write(addr, nil)
		switch {
		case err == nil:
			found = append(found, addr)
		case errors.Is(err, core.ErrTransactionFailed):
		default:
			return found, err
		}
	}
	return found, nil
}
