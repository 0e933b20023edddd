//go:build rp2040

// Command rp2040 is the robocore firmware for RP2040 boards: it reports
// the identity header, blinks the status LED and turns drive commands
// from the USB port into motor set points.
package main

import (
	"context"
	"machine"
	"time"

	"periph.io/x/conn/v3/gpio"

	"robocore/bus"
	"robocore/bus/i2c"
	"robocore/bus/spi"
	"robocore/core"
	"robocore/header"
	"robocore/protocol"
	"robocore/storage"
)

const (
	blinkPeriodMs    = 500
	readTimeoutMs    = 100
	eepromSize       = 4096
	eepromPageSize   = 32
	eepromAddress    = 0x50
	expansionRateBps = 100000
)

func main() {
	// Clear any watchdog state left from a previous reset.
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	sys, err := core.New(core.Config{})
	if err != nil {
		return
	}
	usb := newUSBDev(sys)
	sys.SetLogDev(usb)
	sys.Log("robocore %s\n", machine.Device)

	ctx := context.Background()
	bank := bus.NewBank()

	if eeprom, err := newSoftI2C(sys, storageBus); err != nil {
		sys.Log("%s: %v\n", storageBus.name, err)
	} else {
		initStorage(sys, eeprom)
	}
	reportHeader(sys)

	if expansion, err := newHardI2C(sys, bank, expansionBus, expansionRateBps); err != nil {
		sys.Log("%s: %v\n", expansionBus.name, err)
	} else {
		found, err := i2c.Scan(expansion)
		sys.Log("%s: %d devices %v err=%v\n", expansionBus.name, len(found), found, err)
	}

	port := newSPIPort("spi0", machine.SPI0, machine.GPIO18, machine.GPIO19, machine.GPIO16)
	flash := spi.NewHard(sys, "spi0", port, nil, spi.WithChipSelect(newPin(machine.GPIO17, "GP17")))
	if err := flash.Init(spi.Speed1312kHz); err != nil {
		sys.Log("spi0: %v\n", err)
	}

	led := newPin(machine.LED, "LED")
	var on bool
	if _, err := sys.AddInterval(blinkPeriodMs, func(context.Context, core.TimerHandle, interface{}) {
		on = !on
		_ = led.Out(gpio.Level(on))
	}, nil); err != nil {
		sys.Log("blink: %v\n", err)
	}

	if _, err := sys.CreateTask(ctx, driveTask, usb, core.WithName("drive")); err != nil {
		sys.Log("drive: %v\n", err)
	}

	for {
		// Run only returns when its context ends; restart it after a
		// panic in a timer handler.
		func() {
			defer func() {
				if r := recover(); r != nil {
					sys.Log("timer dispatch: %v\n", r)
					time.Sleep(10 * time.Millisecond)
				}
			}()
			_ = sys.Run(ctx)
		}()
	}
}

func initStorage(sys *core.System, b *i2c.Soft) {
	dev := storage.NewEEPROM(b, eepromAddress, eepromSize, eepromPageSize)
	store, err := storage.New(dev, nil, storage.Record{ID: core.RecordHeader, MaxSize: header.Size})
	if err != nil {
		sys.Log("storage: %v\n", err)
		return
	}
	sys.SetStorage(store)
}

func reportHeader(sys *core.System) {
	h, err := header.Load(sys.Storage())
	if err != nil {
		sys.Log("header: %v\n", err)
		return
	}
	sys.Log("%s\n", h)
}

// driveTask echoes every drive command read from the USB port.
func driveTask(ctx context.Context, arg interface{}) {
	dev := arg.(core.LogDev)
	r := protocol.NewLineReader(dev.Read, readTimeoutMs)
	for {
		line, err := r.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if line == "" {
			continue
		}
		d, err := protocol.ParseDrive(line)
		if err != nil {
			dev.Printf("?\n")
			continue
		}
		dev.Printf("%s\n", d)
	}
}

// itoa converts int to string without strconv.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	negative := i < 0
	if negative {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if negative {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
