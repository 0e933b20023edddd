package main

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"robocore/core"
	"robocore/protocol"
)

// serveDrive reads drive commands until ctx ends and echoes each decoded
// set point to the system log.
func serveDrive(ctx context.Context, sys *core.System, read protocol.ReadFunc, timeoutMs uint32, logger *zap.Logger) error {
	r := protocol.NewLineReader(read, timeoutMs)
	for {
		line, err := r.ReadLine(ctx)
		switch {
		case errors.Is(err, protocol.ErrLineTooLong):
			logger.Warn("dropping line", zap.Error(err))
			continue
		case err != nil:
			return err
		case line == "":
			continue
		}
		d, err := protocol.ParseDrive(line)
		if err != nil {
			logger.Debug("not a drive command", zap.Error(err))
			sys.Log("?\n")
			continue
		}
		sys.Log("%s\n", d)
	}
}
