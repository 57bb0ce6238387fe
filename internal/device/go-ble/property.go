package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/gattkit/internal/device"
)

// toProperty converts go-ble characteristic flags. The bit layout is the one of
// the GATT characteristic declaration, so only the mask needs checking.
func toProperty(p ble.Property) device.Property {
	var out device.Property
	for _, m := range []struct {
		from ble.Property
		to   device.Property
	}{
		{ble.CharBroadcast, device.PropertyBroadcast},
		{ble.CharRead, device.PropertyRead},
		{ble.CharWriteNR, device.PropertyWriteWithoutResponse},
		{ble.CharWrite, device.PropertyWrite},
		{ble.CharNotify, device.PropertyNotify},
		{ble.CharIndicate, device.PropertyIndicate},
		{ble.CharSignedWrite, device.PropertySignedWrite},
		{ble.CharExtended, device.PropertyExtended},
	} {
		if p&m.from != 0 {
			out |= m.to
		}
	}
	return out
}

// parseUUIDs converts normalized UUID strings into go-ble UUIDs. Invalid entries
// are skipped; an empty result means "no filter".
func parseUUIDs(ids []string) []ble.UUID {
	var out []ble.UUID
	for _, id := range ids {
		u, err := ble.Parse(id)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}
