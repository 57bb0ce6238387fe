package device

import "fmt"

// ResultHandler receives the outcome of an operation: the characteristic value on
// success, or a non-nil error.
type ResultHandler func(value []byte, err error)

// ActionKind tags the variant an Action carries.
type ActionKind int

const (
	ActionRead ActionKind = iota
	ActionWrite
	ActionNotify
)

func (k ActionKind) String() string {
	switch k {
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionNotify:
		return "notify"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// WriteMode selects between acknowledged and unacknowledged writes.
type WriteMode int

const (
	WithResponse WriteMode = iota
	WithoutResponse
)

func (m WriteMode) String() string {
	if m == WithoutResponse {
		return "without-response"
	}
	return "with-response"
}

// Action is one queued GATT operation. Use ReadAction, WriteAction or NotifyAction
// to build one; construction never fails.
type Action struct {
	Kind ActionKind
	Key  RequestKey

	// Write
	Payload     []byte
	Mode        WriteMode
	ResponseKey RequestKey

	// Notify
	Enable bool

	onComplete ResultHandler
}

// ReadAction reads the characteristic named by key.
func ReadAction(key RequestKey, onComplete ResultHandler) Action {
	return Action{Kind: ActionRead, Key: key, onComplete: onComplete}
}

// WriteAction writes payload to key. When responseKey is NoneKey the write is
// completed by its own acknowledgment (or flow-control readiness for unacknowledged
// writes); otherwise it completes when responseKey reports a value.
func WriteAction(key RequestKey, payload []byte, mode WriteMode, responseKey RequestKey, onComplete ResultHandler) Action {
	return Action{
		Kind:        ActionWrite,
		Key:         key,
		Payload:     payload,
		Mode:        mode,
		ResponseKey: responseKey,
		onComplete:  onComplete,
	}
}

// NotifyAction enables or disables value notifications for key. When enabling,
// onValue receives every subsequent value; disabling carries no callback.
func NotifyAction(key RequestKey, enable bool, onValue ResultHandler) Action {
	a := Action{Kind: ActionNotify, Key: key, Enable: enable}
	if enable {
		a.onComplete = onValue
	}
	return a
}

// Property returns the characteristic property the action requires.
func (a Action) Property() Property {
	switch a.Kind {
	case ActionRead:
		return PropertyRead
	case ActionWrite:
		if a.Mode == WithoutResponse {
			return PropertyWriteWithoutResponse
		}
		return PropertyWrite
	default:
		return PropertyNotify
	}
}

// Handler returns the callback to invoke on completion, or nil.
func (a Action) Handler() ResultHandler {
	return a.onComplete
}

// CorrelationKey returns the key whose transport events complete the action.
func (a Action) CorrelationKey() RequestKey {
	if a.Kind == ActionWrite && !a.ResponseKey.IsNone() {
		return a.ResponseKey
	}
	return a.Key
}

// AwaitsResponseKey reports whether a write is completed by a value update on a
// different characteristic instead of its own acknowledgment.
func (a Action) AwaitsResponseKey() bool {
	return a.Kind == ActionWrite && !a.ResponseKey.IsNone() && a.ResponseKey != a.Key
}

func (a Action) String() string {
	switch a.Kind {
	case ActionWrite:
		return fmt.Sprintf("write(%s, %d bytes, %s)", a.Key, len(a.Payload), a.Mode)
	case ActionNotify:
		if a.Enable {
			return fmt.Sprintf("notify(%s, enable)", a.Key)
		}
		return fmt.Sprintf("notify(%s, disable)", a.Key)
	default:
		return fmt.Sprintf("read(%s)", a.Key)
	}
}
