package device

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for every failure an operation callback can observe.
var (
	ErrRadioUnavailable          = errors.New("bluetooth radio is not available")
	ErrConnectSuperseded         = errors.New("connect cancelled by a newer connect request")
	ErrConnectTimeout            = errors.New("connect timeout")
	ErrScanCancelledByNewScan    = errors.New("scan cancelled by a new scan request")
	ErrScanInterrupted           = errors.New("scan interrupted: bluetooth radio became unavailable")
	ErrServiceNotFound           = errors.New("service not found")
	ErrCharacteristicNotFound    = errors.New("characteristic not found")
	ErrPropertyMismatch          = errors.New("characteristic does not support the requested property")
	ErrTransport                 = errors.New("transport error")
	ErrEmptyWritePayload         = errors.New("write payload is empty")
	ErrOperationTimeout          = errors.New("operation timeout")
	ErrNotifySetTimeout          = errors.New("notify state change timeout")
	ErrFindServiceTimeout        = errors.New("service discovery timeout")
	ErrFindCharacteristicTimeout = errors.New("characteristic discovery timeout")
	ErrNotConnected              = errors.New("peripheral not connected")

	// ErrTimeout matches every operation timeout kind.
	ErrTimeout = errors.New("timeout")

	ErrUnsupported = errors.New("unsupported")
)

// NotFoundError represents an error when a GATT resource is not present on the peripheral
type NotFoundError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// Is matches ErrServiceNotFound or ErrCharacteristicNotFound according to Resource.
func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrServiceNotFound:
		return e.Resource == "service"
	case ErrCharacteristicNotFound:
		return e.Resource == "characteristic"
	}
	return false
}

// ServiceNotFound builds the NotFoundError reported when discovery yields no matching service.
func ServiceNotFound(key RequestKey) error {
	return &NotFoundError{Resource: "service", UUIDs: []string{key.ServiceID}}
}

// CharacteristicNotFound builds the NotFoundError reported when discovery yields no matching characteristic.
func CharacteristicNotFound(key RequestKey) error {
	return &NotFoundError{Resource: "characteristic", UUIDs: []string{key.ServiceID, key.CharacteristicID}}
}

// PropertyMismatchError is returned when a characteristic lacks the property an action requires
type PropertyMismatchError struct {
	Key       RequestKey
	Required  Property
	Available Property
}

func (e *PropertyMismatchError) Error() string {
	return fmt.Sprintf("characteristic %s does not support %s (has %s)", e.Key, e.Required, e.Available)
}

func (e *PropertyMismatchError) Is(target error) bool {
	return target == ErrPropertyMismatch || target == ErrUnsupported
}

// TransportError wraps a failure reported by the radio driver.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// WrapTransport returns err wrapped in a TransportError unless it is nil or already one.
func WrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// TimeoutCause tells which stage of an operation ran out of time.
type TimeoutCause int

const (
	TimeoutOperation TimeoutCause = iota
	TimeoutNotifySet
	TimeoutFindService
	TimeoutFindCharacteristic
)

func (c TimeoutCause) String() string {
	switch c {
	case TimeoutNotifySet:
		return "notify set"
	case TimeoutFindService:
		return "find service"
	case TimeoutFindCharacteristic:
		return "find characteristic"
	default:
		return "operation"
	}
}

func (c TimeoutCause) sentinel() error {
	switch c {
	case TimeoutNotifySet:
		return ErrNotifySetTimeout
	case TimeoutFindService:
		return ErrFindServiceTimeout
	case TimeoutFindCharacteristic:
		return ErrFindCharacteristicTimeout
	default:
		return ErrOperationTimeout
	}
}

// TimeoutError carries the policy that expired and the request it expired for.
type TimeoutError struct {
	Cause  TimeoutCause
	Policy TimeoutPolicy
	Key    RequestKey
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout for %s (policy %s)", e.Cause, e.Key, e.Policy)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == e.Cause.sentinel()
}

// ConnectTimeoutError is reported when a connect attempt does not complete in time.
type ConnectTimeoutError struct {
	Timeout time.Duration
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("connect timeout after %s", e.Timeout)
}

func (e *ConnectTimeoutError) Is(target error) bool {
	return target == ErrConnectTimeout || target == ErrTimeout
}

// NotConnectedError reports the phase the session was in when an operation required a connection.
type NotConnectedError struct {
	Phase Phase
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("peripheral not connected (state: %s)", e.Phase)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// NotConnected builds a NotConnectedError for phase.
func NotConnected(phase Phase) error {
	return &NotConnectedError{Phase: phase}
}

// NormalizeError maps known driver error strings onto the error taxonomy.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "adapter not powered"):
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
