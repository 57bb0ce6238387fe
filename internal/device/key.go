package device

import "fmt"

// RequestKey identifies a characteristic within a service. Both parts are stored
// normalized (see NormalizeUUID), so plain == comparison is case-insensitive with
// respect to the caller's input and the key can be used as a map key.
type RequestKey struct {
	ServiceID        string
	CharacteristicID string
}

// NoneKey is the empty key used to mark "no pending operation". It never names a real target.
var NoneKey = RequestKey{}

// NewRequestKey normalizes both UUIDs and builds a key.
func NewRequestKey(service, characteristic string) RequestKey {
	return RequestKey{
		ServiceID:        NormalizeUUID(service),
		CharacteristicID: NormalizeUUID(characteristic),
	}
}

// Normalized re-normalizes a key built as a struct literal.
func (k RequestKey) Normalized() RequestKey {
	if k.IsNone() {
		return k
	}
	return NewRequestKey(k.ServiceID, k.CharacteristicID)
}

// IsNone reports whether k is the sentinel key.
func (k RequestKey) IsNone() bool {
	return k == NoneKey
}

func (k RequestKey) String() string {
	if k.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%s/%s", k.ServiceID, k.CharacteristicID)
}

// Matches reports whether the raw service and characteristic UUIDs refer to k.
func (k RequestKey) Matches(service, characteristic string) bool {
	return !k.IsNone() && k == NewRequestKey(service, characteristic)
}
