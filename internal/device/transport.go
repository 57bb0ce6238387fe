package device

import (
	"context"
	"time"
)

// Transport is the radio driver the core drives. Every method only issues the
// request and returns; outcomes arrive later through the EventSink passed to Start.
// A returned error means the request could not be issued at all.
//
// Implementations must never call the sink synchronously from inside one of these
// methods.
type Transport interface {
	Start(ctx context.Context, sink EventSink) error
	Stop() error

	Connect(deviceID string, opts ConnectOptions) error
	Disconnect(deviceID string) error

	DiscoverServices(deviceID string, filter []string) error
	DiscoverCharacteristics(deviceID, serviceID string, filter []string) error

	ReadCharacteristic(deviceID string, key RequestKey) error
	WriteCharacteristic(deviceID string, key RequestKey, payload []byte, mode WriteMode) error
	SetNotify(deviceID string, key RequestKey, enabled bool) error

	Scan(req ScanRequest) error
	StopScan() error
}

// EventSink consumes transport events.
type EventSink interface {
	HandleEvent(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) HandleEvent(ev Event) { f(ev) }

// ConnectOptions are passed through to the transport on connect.
type ConnectOptions struct {
	// Timeout bounds the driver-level dial. The session enforces its own connect
	// timeout independently.
	Timeout time.Duration
}

// ScanRequest describes a discovery session.
type ScanRequest struct {
	Services        []string
	AllowDuplicates bool
}

// CharacteristicInfo describes a discovered characteristic.
type CharacteristicInfo struct {
	UUID       string
	Properties Property
}

// Advertisement is what a scan reports about one peripheral.
type Advertisement struct {
	ID           string
	Name         string
	RSSI         int
	Connectable  bool
	Services     []string
	TxPower      *int
	Manufacturer []byte
}

// PowerSource reports radio power transitions for drivers whose library does not.
// Watch reports the current state first and then every change until ctx is done.
type PowerSource interface {
	Watch(ctx context.Context, onChange func(PowerState)) error
}
