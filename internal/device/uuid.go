package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/gattkit/internal/bledb"
)

// ErrInvalidUUID is wrapped by every UUID validation failure.
var ErrInvalidUUID = errors.New("invalid UUID")

// NormalizeUUID turns uuid into the key form sessions and caches compare on:
// lower-case hex with dashes, braces and any 0x prefix removed. UUIDs built on
// the SIG base collapse to their 16-bit alias, so "2A19" and
// "00002a19-0000-1000-8000-00805f9b34fb" name the same characteristic.
func NormalizeUUID(uuid string) string {
	return bledb.NormalizeUUID(uuid)
}

// NormalizeUUIDs is NormalizeUUID over a list.
func NormalizeUUIDs(uuids []string) []string {
	return bledb.NormalizeUUIDs(uuids)
}

// ValidateUUID normalizes each argument, in order. The first blank or malformed
// one rejects the whole list with an error wrapping ErrInvalidUUID that names its
// 1-based position.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("%w: none given", ErrInvalidUUID)
	}

	ids := make([]string, len(uuids))
	for i, raw := range uuids {
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("%w: argument %d is blank", ErrInvalidUUID, i+1)
		}
		id := NormalizeUUID(raw)
		if !bledb.IsValidUUID(id) {
			return nil, fmt.Errorf("%w: argument %d: %q", ErrInvalidUUID, i+1, raw)
		}
		ids[i] = id
	}
	return ids, nil
}

// KnownName returns the SIG-assigned name for a service or characteristic UUID, or "".
func KnownName(uuid string) string {
	if name := bledb.LookupService(uuid); name != "" {
		return name
	}
	return bledb.LookupCharacteristic(uuid)
}
