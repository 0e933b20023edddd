package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"robocore/core"
)

const boardYAML = `
name: tank
system:
  max_tasks: 8
  max_priority: 5
  default_priority: 3
  tick_us: 250
  dispatch_interval: 2ms
serial:
  device: /dev/ttyACM0
i2c:
  - name: i2c0
    soft: true
    sda: GP4
    scl: GP5
    rate: 100000
  - name: i2c1
spi:
  - name: spi0
    speed_khz: 10500
    mode: 3
    cs: GP17
can:
  enabled: true
  enable_pin: GP20
storage:
  bus: i2c0
`

func TestLoadAppliesDefaults(t *testing.T) {
	b, err := Load([]byte(boardYAML))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, b.Name, test.ShouldEqual, "tank")
	test.That(t, b.Serial.Baud, test.ShouldEqual, 115200)
	test.That(t, b.Serial.ReadTimeoutMs, test.ShouldEqual, 100)
	test.That(t, b.I2C[0].Rate, test.ShouldEqual, uint32(100000))
	test.That(t, b.I2C[1].Rate, test.ShouldEqual, uint32(10000))
	test.That(t, b.I2C[1].TimeoutMs, test.ShouldEqual, uint32(100))
	test.That(t, b.SPI[0].Mode, test.ShouldEqual, 3)
	test.That(t, b.CAN.Bitrate, test.ShouldEqual, uint32(500000))
	test.That(t, b.CAN.RxDepth, test.ShouldEqual, 32)
	test.That(t, b.Storage.Address, test.ShouldEqual, uint16(0x50))
	test.That(t, b.Storage.Size, test.ShouldEqual, uint16(4096))

	bus, ok := b.I2CBus("i2c0")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, bus.SDA, test.ShouldEqual, "GP4")
	_, ok = b.I2CBus("i2c9")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestCoreConfigBuildsSystem(t *testing.T) {
	b, err := Load([]byte(boardYAML))
	test.That(t, err, test.ShouldBeNil)

	cfg := b.CoreConfig(zaptest.NewLogger(t))
	test.That(t, cfg.DispatchInterval, test.ShouldEqual, 2*time.Millisecond)
	test.That(t, cfg.TickUs, test.ShouldEqual, uint32(250))

	sys, err := core.New(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sys.Config().MaxTasks, test.ShouldEqual, 8)
	test.That(t, sys.Config().MaxTimers, test.ShouldEqual, core.DefaultMaxTimers)
}

func TestValidateRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"duplicate bus":   "i2c: [{name: a}]\nspi: [{name: a}]\n",
		"unnamed bus":     "i2c: [{rate: 100}]\n",
		"soft without":    "i2c: [{name: a, soft: true}]\n",
		"bad spi speed":   "spi: [{name: s, speed_khz: 1000}]\n",
		"bad spi mode":    "spi: [{name: s, mode: 4}]\n",
		"storage bus":     "storage: {bus: nope}\n",
		"priority window": "system: {max_priority: 2, default_priority: 4}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(doc))
			test.That(t, errors.Is(err, core.ErrInvalidConfiguration), test.ShouldBeTrue)
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load([]byte("i2c: {name: [oops"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	test.That(t, os.WriteFile(path, []byte(boardYAML), 0o600), test.ShouldBeNil)
	b, err := LoadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Name, test.ShouldEqual, "tank")

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDefaultBoardIsValid(t *testing.T) {
	b := Default()
	test.That(t, b.Validate(), test.ShouldBeNil)
	test.That(t, b.SPI[0].SpeedKHz, test.ShouldEqual, uint32(1312))
}
