package tinygo

import (
	"fmt"
	"strconv"

	"github.com/srg/gattkit/internal/device"
	"tinygo.org/x/bluetooth"
)

// toUUID converts a UUID in the normalized form (lowercase hex, no dashes, SIG base
// UUIDs shortened) into a bluetooth.UUID.
func toUUID(id string) (bluetooth.UUID, error) {
	id = device.NormalizeUUID(id)
	switch len(id) {
	case 4:
		v, err := strconv.ParseUint(id, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", id, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	case 8:
		v, err := strconv.ParseUint(id, 16, 32)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", id, err)
		}
		return bluetooth.New32BitUUID(uint32(v)), nil
	case 32:
		return bluetooth.ParseUUID(id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:])
	default:
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q", id)
	}
}

// toUUIDs converts a filter list. Invalid entries are skipped; nil means no filter.
func toUUIDs(ids []string) []bluetooth.UUID {
	var out []bluetooth.UUID
	for _, id := range ids {
		if u, err := toUUID(id); err == nil {
			out = append(out, u)
		}
	}
	return out
}

func fromUUID(u bluetooth.UUID) string {
	return device.NormalizeUUID(u.String())
}
