package simulator

import (
	"fmt"
	"time"

	"github.com/srg/gattkit/internal/device"
)

// CharacteristicProfile describes one simulated characteristic. Properties uses
// the comma separated form accepted by device.ParseProperties ("read,notify").
type CharacteristicProfile struct {
	UUID       string `json:"uuid" yaml:"uuid"`
	Properties string `json:"properties,omitempty" yaml:"properties,omitempty"`
	Value      []byte `json:"value,omitempty" yaml:"value,omitempty"`
}

// ServiceProfile describes one simulated service.
type ServiceProfile struct {
	UUID            string                  `json:"uuid" yaml:"uuid"`
	Characteristics []CharacteristicProfile `json:"characteristics,omitempty" yaml:"characteristics,omitempty"`
}

// PeripheralProfile describes a simulated peripheral. An empty ID is replaced by a
// random UUID when the peripheral is added.
type PeripheralProfile struct {
	ID       string           `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string           `json:"name,omitempty" yaml:"name,omitempty"`
	RSSI     int              `json:"rssi,omitempty" yaml:"rssi,omitempty"`
	Services []ServiceProfile `json:"services,omitempty" yaml:"services,omitempty"`

	// Unreachable peripherals advertise but never answer a connect.
	Unreachable bool `json:"unreachable,omitempty" yaml:"unreachable,omitempty"`
	// ConnectDelay is added to the simulator delay for connects.
	ConnectDelay time.Duration `json:"connect_delay,omitempty" yaml:"connect_delay,omitempty"`
}

// ReadStub produces the value returned by a read.
type ReadStub func(key device.RequestKey) ([]byte, error)

// WriteStub consumes a write. The returned value is carried by the acknowledgment.
type WriteStub func(key device.RequestKey, payload []byte, mode device.WriteMode) ([]byte, error)

// NotifyStub accepts or rejects a notification state change. emit pushes a value
// to the subscriber at any later time.
type NotifyStub func(key device.RequestKey, enabled bool, emit Emitter) error

// Emitter pushes one notification.
type Emitter func(value []byte, err error)

// StubOption tunes a registered stub.
type StubOption func(*stubConfig)

type stubConfig struct {
	delay  time.Duration
	silent bool
}

// WithDelay adds d to the simulator delay before the stub's response is delivered.
func WithDelay(d time.Duration) StubOption {
	return func(c *stubConfig) { c.delay = d }
}

// WithNoResponse makes the stub swallow the request; no event is ever delivered.
func WithNoResponse() StubOption {
	return func(c *stubConfig) { c.silent = true }
}

// StaticRead returns value on every read.
func StaticRead(value []byte) ReadStub {
	return func(device.RequestKey) ([]byte, error) {
		return append([]byte(nil), value...), nil
	}
}

// FailingRead fails every read with err.
func FailingRead(err error) ReadStub {
	return func(device.RequestKey) ([]byte, error) { return nil, err }
}

// AcceptWrite acknowledges every write with no value.
func AcceptWrite() WriteStub {
	return func(device.RequestKey, []byte, device.WriteMode) ([]byte, error) { return nil, nil }
}

// AcceptNotify accepts every notification state change.
func AcceptNotify() NotifyStub {
	return func(device.RequestKey, bool, Emitter) error { return nil }
}

type characteristic struct {
	uuid       string
	properties device.Property
	value      []byte

	read   ReadStub
	write  WriteStub
	notify NotifyStub

	readCfg   stubConfig
	writeCfg  stubConfig
	notifyCfg stubConfig

	subscribed bool
}

func parseProfileProperties(s string) (device.Property, error) {
	if s == "" {
		return device.PropertyRead | device.PropertyWrite | device.PropertyNotify, nil
	}
	p, err := device.ParseProperties(s)
	if err != nil {
		return 0, fmt.Errorf("invalid characteristic properties %q: %w", s, err)
	}
	return p, nil
}
