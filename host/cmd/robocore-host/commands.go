package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"

	"robocore/core"
	"robocore/header"
	"robocore/host/mcu"
	"robocore/host/serial"
)

const blinkPeriodMs = 500

func runAction(c *cli.Context) (err error) {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := mcu.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, m.Close(context.Background())) }()

	port, err := serial.Open(&serial.Config{
		Device:      c.String(flagDevice),
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeoutMs,
	})
	if err != nil {
		return err
	}
	dev := serial.NewDevice(port, m.Sys.Clock(), logger.Named("serial"))
	defer func() { err = multierr.Append(err, dev.Close()) }()
	m.Sys.SetLogDev(dev)

	if err := m.Start(ctx); err != nil {
		return err
	}

	led := m.Pins.Pin("LED", 25, "LED")
	var on bool
	if _, err := m.Sys.AddInterval(blinkPeriodMs, func(context.Context, core.TimerHandle, interface{}) {
		on = !on
		if err := led.Out(gpio.Level(on)); err != nil {
			logger.Warn("blink", zap.Error(err))
		}
	}, nil); err != nil {
		return err
	}

	logger.Info("serving drive commands", zap.String("device", c.String(flagDevice)))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Sys.Run(gctx) })
	g.Go(func() error {
		return serveDrive(gctx, m.Sys, dev.Read, uint32(cfg.Serial.ReadTimeoutMs), logger)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func headerAction(c *cli.Context) (err error) {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	m, err := mcu.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, m.Close(context.Background())) }()
	if m.EEPROM == nil {
		return errors.Wrap(core.ErrNoStorage, "board file names no storage bus")
	}

	image := c.String(flagImage)
	if image != "" {
		data, err := os.ReadFile(image)
		switch {
		case err == nil:
			m.EEPROM.Load(data)
		case !errors.Is(err, os.ErrNotExist):
			return errors.Wrapf(err, "read image %s", image)
		}
	}

	if c.Bool(flagProvision) {
		h := &header.Header{
			HeaderVersion: uint8(c.Uint(flagHeaderVersion)),
			Type:          uint8(c.Uint(flagType)),
			Version:       uint32(c.Uint(flagVersion)),
			ID:            uint32(c.Uint(flagID)),
		}
		if err := h.SetKey(c.String(flagKey)); err != nil {
			return err
		}
		if err := m.Provision(h); err != nil {
			return err
		}
		if image != "" {
			if err := os.WriteFile(image, m.EEPROM.Bytes(), 0o600); err != nil {
				return errors.Wrapf(err, "write image %s", image)
			}
		}
	}

	h, err := m.Header()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, h)
	return nil
}

func scanAction(c *cli.Context) (err error) {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	m, err := mcu.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, m.Close(context.Background())) }()

	name := c.String(flagBus)
	if name == "" {
		name = cfg.Storage.Bus
	}
	found, err := m.Scan(name)
	if err != nil {
		return err
	}
	for _, addr := range found {
		fmt.Fprintf(c.App.Writer, "%s: %#02x\n", name, addr)
	}
	if len(found) == 0 {
		fmt.Fprintf(c.App.Writer, "%s: no devices\n", name)
	}
	return nil
}
