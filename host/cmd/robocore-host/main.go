// Command robocore-host drives a simulated robocore board from a
// workstation: it serves drive commands over a serial link, provisions
// the identity header and scans the I2C buses.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"robocore/config"
)

const (
	flagConfig = "config"
	flagDebug  = "debug"
	flagDevice = "device"
	flagBus    = "bus"
	flagImage  = "image"

	flagProvision     = "provision"
	flagHeaderVersion = "header-version"
	flagType          = "type"
	flagVersion       = "version"
	flagID            = "id"
	flagKey           = "key"
)

func main() {
	app := &cli.App{
		Name:  "robocore-host",
		Usage: "talk to a robocore board",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "board file (YAML); the stock board when empty",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "serve drive commands on a serial link",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagDevice,
						Value: "/dev/ttyACM0",
						Usage: "serial device path",
					},
				},
				Action: runAction,
			},
			{
				Name:  "header",
				Usage: "show or provision the identity header",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagImage,
						Usage: "EEPROM image file, loaded before and saved after the command",
					},
					&cli.BoolFlag{Name: flagProvision, Usage: "write a new header"},
					&cli.UintFlag{Name: flagHeaderVersion, Value: 1, Usage: "header layout version"},
					&cli.UintFlag{Name: flagType, Usage: "board type"},
					&cli.UintFlag{Name: flagVersion, Usage: "board revision"},
					&cli.UintFlag{Name: flagID, Usage: "board serial number"},
					&cli.StringFlag{Name: flagKey, Usage: "19 character alphanumeric key"},
				},
				Action: headerAction,
			},
			{
				Name:  "scan",
				Usage: "list the devices answering on an I2C bus",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagBus,
						Usage: "bus name; the storage bus when empty",
					},
				},
				Action: scanAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the board file and builds the logger every command uses.
func setup(c *cli.Context) (*config.Board, *zap.Logger, error) {
	var (
		cfg *config.Board
		err error
	)
	if path := c.String(flagConfig); path != "" {
		cfg, err = config.LoadFile(path)
		if err != nil {
			return nil, nil, err
		}
	} else {
		cfg = config.Default()
	}

	zcfg := zap.NewDevelopmentConfig()
	if !c.Bool(flagDebug) {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, errors.Wrap(err, "build logger")
	}
	return cfg, logger, nil
}
