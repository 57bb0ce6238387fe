package device

import (
	"fmt"
	"time"
)

// Phase is the connection phase of a peripheral session.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Disconnecting
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// PowerState is the radio power state as reported by the transport.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerResetting
	PowerUnsupported
	PowerUnauthorized
	PowerOff
	PowerOn
)

func (s PowerState) String() string {
	switch s {
	case PowerResetting:
		return "resetting"
	case PowerUnsupported:
		return "unsupported"
	case PowerUnauthorized:
		return "unauthorized"
	case PowerOff:
		return "powered-off"
	case PowerOn:
		return "powered-on"
	default:
		return "unknown"
	}
}

// Usable reports whether GATT operations can be issued in this state.
func (s PowerState) Usable() bool { return s == PowerOn }

// TimeoutPolicy bounds how long one dispatched operation may wait for its
// transport event. The zero value is disabled.
type TimeoutPolicy struct {
	Enabled  bool
	Duration time.Duration
}

// TimeoutDisabled never times an operation out.
func TimeoutDisabled() TimeoutPolicy { return TimeoutPolicy{} }

// TimeoutAfter enables timeouts of d. A non-positive d disables the policy.
func TimeoutAfter(d time.Duration) TimeoutPolicy {
	if d <= 0 {
		return TimeoutPolicy{}
	}
	return TimeoutPolicy{Enabled: true, Duration: d}
}

func (p TimeoutPolicy) String() string {
	if !p.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("enabled(%s)", p.Duration)
}
