package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/simulator"
	"gopkg.in/yaml.v3"
)

// Transport drivers.
const (
	DriverGoBLE     = "go-ble"
	DriverTinyGo    = "tinygo"
	DriverSimulator = "simulator"
)

// StubConfig is the test-mode device registry. When enabled, the simulator
// replaces the radio and is populated with Devices.
type StubConfig struct {
	Enabled bool                          `json:"enabled" yaml:"enabled"`
	Delay   time.Duration                 `json:"delay" yaml:"delay"`
	Devices []simulator.PeripheralProfile `json:"devices" yaml:"devices"`
}

// Config holds application configuration
type Config struct {
	LogLevel string `json:"log_level" yaml:"log_level" default:"info"`
	Driver   string `json:"driver" yaml:"driver" default:"go-ble"`
	// Adapter names the BlueZ adapter watched for power changes on Linux.
	Adapter string `json:"adapter" yaml:"adapter" default:"hci0"`

	// OperationTimeout bounds each GATT operation; zero disables operation timeouts.
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout"`
	ConnectTimeout   time.Duration `json:"connect_timeout" yaml:"connect_timeout" default:"5s"`
	ScanTimeout      time.Duration `json:"scan_timeout" yaml:"scan_timeout" default:"5s"`

	EventHistory    uint32 `json:"event_history" yaml:"event_history" default:"256"`
	SubscriberDepth int    `json:"subscriber_depth" yaml:"subscriber_depth" default:"64"`

	// WriteRate paces writes without response (per second); zero leaves them unpaced.
	WriteRate  float64 `json:"write_rate" yaml:"write_rate"`
	WriteBurst int     `json:"write_burst" yaml:"write_burst" default:"1"`

	Stub StubConfig `json:"stub" yaml:"stub"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file. Fields absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration document and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	defaults.SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and the driver name.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	switch c.Driver {
	case DriverGoBLE, DriverTinyGo, DriverSimulator:
	default:
		return fmt.Errorf("invalid driver %q (expected one of %s)", c.Driver,
			strings.Join([]string{DriverGoBLE, DriverTinyGo, DriverSimulator}, ", "))
	}
	for name, d := range map[string]time.Duration{
		"operation_timeout": c.OperationTimeout,
		"connect_timeout":   c.ConnectTimeout,
		"scan_timeout":      c.ScanTimeout,
		"stub.delay":        c.Stub.Delay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.WriteRate < 0 {
		return fmt.Errorf("write_rate must not be negative, got %v", c.WriteRate)
	}
	return nil
}

// UsesSimulator reports whether the simulator replaces the radio.
func (c *Config) UsesSimulator() bool {
	return c.Stub.Enabled || c.Driver == DriverSimulator
}

// TimeoutPolicy converts OperationTimeout into the policy applied to every operation.
func (c *Config) TimeoutPolicy() device.TimeoutPolicy {
	return device.TimeoutAfter(c.OperationTimeout)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
