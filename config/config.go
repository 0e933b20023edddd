// Package config loads the board description: scheduler limits, buses,
// the storage chip and the host serial link.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"robocore/bus/spi"
	"robocore/core"
)

// Board is the whole board file.
type Board struct {
	Name    string        `yaml:"name"`
	System  SystemConfig  `yaml:"system"`
	Serial  SerialConfig  `yaml:"serial"`
	I2C     []I2CConfig   `yaml:"i2c"`
	SPI     []SPIConfig   `yaml:"spi"`
	CAN     CANConfig     `yaml:"can"`
	Storage StorageConfig `yaml:"storage"`
}

// SystemConfig mirrors core.Config.
type SystemConfig struct {
	MaxTasks         int           `yaml:"max_tasks"`
	MaxTimers        int           `yaml:"max_timers"`
	DefaultPriority  uint8         `yaml:"default_priority"`
	MaxPriority      uint8         `yaml:"max_priority"`
	DefaultStackSize uint32        `yaml:"default_stack_size"`
	TickUs           uint32        `yaml:"tick_us"`
	HeapSize         int           `yaml:"heap_size"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
}

// SerialConfig is the host link used as the log device.
type SerialConfig struct {
	Device        string `yaml:"device"`
	Baud          int    `yaml:"baud"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`
}

// I2CConfig describes one I2C bus.
type I2CConfig struct {
	Name      string `yaml:"name"`
	Soft      bool   `yaml:"soft"`
	SDA       string `yaml:"sda"`
	SCL       string `yaml:"scl"`
	Rate      uint32 `yaml:"rate"`
	TimeoutMs uint32 `yaml:"timeout_ms"`
}

// SPIConfig describes one SPI bus.
type SPIConfig struct {
	Name     string `yaml:"name"`
	Soft     bool   `yaml:"soft"`
	SpeedKHz uint32 `yaml:"speed_khz"`
	Mode     int    `yaml:"mode"`
	SCK      string `yaml:"sck"`
	MOSI     string `yaml:"mosi"`
	MISO     string `yaml:"miso"`
	CS       string `yaml:"cs"`
}

// CANConfig describes the CAN port.
type CANConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bitrate   uint32 `yaml:"bitrate"`
	RxDepth   int    `yaml:"rx_depth"`
	EnablePin string `yaml:"enable_pin"`
}

// StorageConfig describes the EEPROM holding the records.
type StorageConfig struct {
	Bus      string `yaml:"bus"`
	Address  uint16 `yaml:"address"`
	Size     uint16 `yaml:"size"`
	PageSize uint16 `yaml:"page_size"`
}

// Load parses a YAML board file and fills in defaults.
func Load(data []byte) (*Board, error) {
	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrap(err, "parse board config")
	}
	applyDefaults(&b)
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadFile reads and parses path.
func LoadFile(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return Load(data)
}

// applyDefaults fills in missing values.
func applyDefaults(b *Board) {
	if b.Name == "" {
		b.Name = "robocore"
	}
	if b.Serial.Baud == 0 {
		b.Serial.Baud = 115200
	}
	if b.Serial.ReadTimeoutMs == 0 {
		b.Serial.ReadTimeoutMs = 100
	}
	for i := range b.I2C {
		c := &b.I2C[i]
		if c.Rate == 0 {
			c.Rate = 10000
		}
		if c.TimeoutMs == 0 {
			c.TimeoutMs = 100
		}
	}
	for i := range b.SPI {
		if b.SPI[i].SpeedKHz == 0 {
			b.SPI[i].SpeedKHz = uint32(spi.Speed1312kHz)
		}
	}
	if b.CAN.Bitrate == 0 {
		b.CAN.Bitrate = 500000
	}
	if b.CAN.RxDepth == 0 {
		b.CAN.RxDepth = 32
	}
	if b.Storage.Address == 0 {
		b.Storage.Address = 0x50
	}
	if b.Storage.Size == 0 {
		b.Storage.Size = 4096
	}
	if b.Storage.PageSize == 0 {
		b.Storage.PageSize = 32
	}
}

// Validate checks cross-field rules the YAML types cannot express.
func (b *Board) Validate() error {
	names := make(map[string]bool)
	claim := func(name string) error {
		if name == "" {
			return errors.Wrap(core.ErrInvalidConfiguration, "bus without a name")
		}
		if names[name] {
			return errors.Wrapf(core.ErrInvalidConfiguration, "bus %q declared twice", name)
		}
		names[name] = true
		return nil
	}
	for _, c := range b.I2C {
		if err := claim(c.Name); err != nil {
			return err
		}
		if c.Soft && (c.SDA == "" || c.SCL == "") {
			return errors.Wrapf(core.ErrInvalidConfiguration, "soft i2c %q needs sda and scl", c.Name)
		}
	}
	for _, c := range b.SPI {
		if err := claim(c.Name); err != nil {
			return err
		}
		if !c.Soft {
			if _, err := spi.ParseSpeed(c.SpeedKHz); err != nil {
				return errors.Wrapf(err, "spi %q", c.Name)
			}
		}
		if c.Mode < 0 || c.Mode > 3 {
			return errors.Wrapf(core.ErrInvalidConfiguration, "spi %q mode %d", c.Name, c.Mode)
		}
	}
	if b.Storage.Bus != "" {
		found := false
		for _, c := range b.I2C {
			found = found || c.Name == b.Storage.Bus
		}
		if !found {
			return errors.Wrapf(core.ErrInvalidConfiguration, "storage bus %q is not an i2c bus", b.Storage.Bus)
		}
	}
	if b.System.DefaultPriority > b.System.MaxPriority && b.System.MaxPriority != 0 {
		return errors.Wrapf(core.ErrInvalidConfiguration, "default priority %d above max %d", b.System.DefaultPriority, b.System.MaxPriority)
	}
	return nil
}

// I2CBus returns the named I2C bus settings.
func (b *Board) I2CBus(name string) (I2CConfig, bool) {
	for _, c := range b.I2C {
		if c.Name == name {
			return c, true
		}
	}
	return I2CConfig{}, false
}

// CoreConfig converts the system section; zero fields keep core's
// defaults.
func (b *Board) CoreConfig(logger *zap.Logger) core.Config {
	s := b.System
	return core.Config{
		MaxTasks:         s.MaxTasks,
		MaxTimers:        s.MaxTimers,
		DefaultPriority:  s.DefaultPriority,
		MaxPriority:      s.MaxPriority,
		DefaultStackSize: s.DefaultStackSize,
		TickUs:           s.TickUs,
		HeapSize:         s.HeapSize,
		DispatchInterval: s.DispatchInterval,
		Logger:           logger,
	}
}

// Default returns the stock board: one soft I2C bus carrying the
// identity EEPROM and a hardware SPI bus.
func Default() *Board {
	b := &Board{
		I2C: []I2CConfig{{Name: "i2c0", Soft: true, SDA: "GP4", SCL: "GP5"}},
		SPI: []SPIConfig{{Name: "spi0", SCK: "GP18", MOSI: "GP19", MISO: "GP16", CS: "GP17"}},
		Storage: StorageConfig{Bus: "i2c0"},
	}
	applyDefaults(b)
	return b
}
