package device

// Event is anything a transport (or the core itself) reports asynchronously.
// DeviceID is empty for radio-wide events.
type Event interface {
	DeviceID() string
	EventName() string
}

// ConnectedEvent reports an established link.
type ConnectedEvent struct {
	Device string
}

// ConnectFailedEvent reports a connect attempt that the driver gave up on.
type ConnectFailedEvent struct {
	Device string
	Err    error
}

// DisconnectedEvent reports a link loss; Err is nil for a requested disconnect.
type DisconnectedEvent struct {
	Device string
	Err    error
}

// ServicesDiscoveredEvent lists the services the peripheral exposes (after filtering).
type ServicesDiscoveredEvent struct {
	Device   string
	Services []string
	Err      error
}

// CharacteristicsDiscoveredEvent lists the characteristics of one service.
type CharacteristicsDiscoveredEvent struct {
	Device          string
	ServiceID       string
	Characteristics []CharacteristicInfo
	Err             error
}

// ValueUpdatedEvent carries a read result or a notification.
type ValueUpdatedEvent struct {
	Device string
	Key    RequestKey
	Value  []byte
	Err    error
}

// WriteAckEvent acknowledges a write with response.
type WriteAckEvent struct {
	Device string
	Key    RequestKey
	Value  []byte
	Err    error
}

// NotifyStateEvent acknowledges a notification enable/disable.
type NotifyStateEvent struct {
	Device  string
	Key     RequestKey
	Enabled bool
	Err     error
}

// ReadyToSendEvent signals the link can take another write without response.
type ReadyToSendEvent struct {
	Device string
}

// PowerStateEvent reports a radio power transition.
type PowerStateEvent struct {
	State PowerState
}

// DeviceDiscoveredEvent reports an advertisement seen while scanning.
type DeviceDiscoveredEvent struct {
	Advertisement Advertisement
}

// ErrorEvent mirrors an operation failure onto the global event stream.
type ErrorEvent struct {
	Device string
	Err    error
}

func (e ConnectedEvent) DeviceID() string                 { return e.Device }
func (e ConnectFailedEvent) DeviceID() string             { return e.Device }
func (e DisconnectedEvent) DeviceID() string              { return e.Device }
func (e ServicesDiscoveredEvent) DeviceID() string        { return e.Device }
func (e CharacteristicsDiscoveredEvent) DeviceID() string { return e.Device }
func (e ValueUpdatedEvent) DeviceID() string              { return e.Device }
func (e WriteAckEvent) DeviceID() string                  { return e.Device }
func (e NotifyStateEvent) DeviceID() string               { return e.Device }
func (e ReadyToSendEvent) DeviceID() string               { return e.Device }
func (e PowerStateEvent) DeviceID() string                { return "" }
func (e DeviceDiscoveredEvent) DeviceID() string          { return e.Advertisement.ID }
func (e ErrorEvent) DeviceID() string                     { return e.Device }

func (ConnectedEvent) EventName() string                 { return "connected" }
func (ConnectFailedEvent) EventName() string             { return "connect-failed" }
func (DisconnectedEvent) EventName() string              { return "disconnected" }
func (ServicesDiscoveredEvent) EventName() string        { return "services-discovered" }
func (CharacteristicsDiscoveredEvent) EventName() string { return "characteristics-discovered" }
func (ValueUpdatedEvent) EventName() string              { return "value-updated" }
func (WriteAckEvent) EventName() string                  { return "write-acknowledged" }
func (NotifyStateEvent) EventName() string               { return "notify-state-changed" }
func (ReadyToSendEvent) EventName() string               { return "ready-to-send" }
func (PowerStateEvent) EventName() string                { return "power-state-changed" }
func (DeviceDiscoveredEvent) EventName() string          { return "device-discovered" }
func (ErrorEvent) EventName() string                     { return "error" }
