package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Bus kinds.
const (
	KindI2C     = "i2c"
	KindMCP2221 = "mcp2221"
	KindGobot   = "gobot"
	KindSPI     = "spi"
	KindGPIO    = "gpio"
	KindModbus  = "modbus"
)

const (
	ByteOrderBig    = "big"
	ByteOrderLittle = "little"
)

type Config struct {
	Bus       BusConfig        `yaml:"bus"`
	Poll      PollConfig       `yaml:"poll"`
	Registers []RegisterConfig `yaml:"registers"`
	Sinks     SinksConfig      `yaml:"sinks"`
}

// ---- BUS ----

type BusConfig struct {
	Kind string `yaml:"kind"`
	// Device is the i2c/spi port name, the gpio chip or the modbus endpoint.
	Device string `yaml:"device"`
	// Address is the device address on i2c, mcp2221 and gobot buses and the
	// unit id on modbus.
	Address   uint16 `yaml:"address"`
	ByteOrder string `yaml:"byte_order"`
	SpeedHz   int64  `yaml:"speed_hz"`

	// i2c, mcp2221
	WidePointer bool `yaml:"wide_pointer"`
	// mcp2221; -1 requires exactly one bridge
	DeviceIndex *int `yaml:"device_index"`
	// gobot
	BusNumber int `yaml:"bus_number"`
	// gpio
	Pull string `yaml:"pull"`
	// spi
	ReadMask    *uint8 `yaml:"read_mask"`
	ReadCommand *uint8 `yaml:"read_command"`
	AddressSize int    `yaml:"address_size"`
	// modbus
	Table    string        `yaml:"table"`
	Timeout  time.Duration `yaml:"timeout"`
	BaudRate int           `yaml:"baud_rate"`
}

// ---- POLL ----

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Retry    RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// ---- REGISTERS ----

type RegisterConfig struct {
	Name    string `yaml:"name"`
	Address uint16 `yaml:"address"`
	Width   string `yaml:"width"`
	Length  int    `yaml:"length"`
	Decode  string `yaml:"decode"`
}

// ---- SINKS ----

type SinksConfig struct {
	// Console defaults to true.
	Console *bool `yaml:"console"`
	Log     bool  `yaml:"log"`
	// YAML is a file path the sample stream is appended to; "-" is stdout.
	YAML        string            `yaml:"yaml"`
	Metrics     bool              `yaml:"metrics"`
	ChangesOnly bool              `yaml:"changes_only"`
	Modbus      *ModbusSinkConfig `yaml:"modbus"`
}

type ModbusSinkConfig struct {
	Endpoint string        `yaml:"endpoint"`
	UnitID   uint8         `yaml:"unit_id"`
	Offset   uint16        `yaml:"offset"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Load reads, validates and normalizes the configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open config: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses, validates and normalizes a configuration document. Unknown
// keys are rejected.
func Read(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("could not parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	Normalize(&cfg)
	return &cfg, nil
}
