package goble

import (
	"fmt"
	"strings"

	"github.com/srg/gattkit/internal/device"
)

// NormalizeError maps known go-ble error strings onto the device error taxonomy.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrRadioUnavailable, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "can't init hci"),
		containsIgnoreCase(msg, "operation not permitted"):
		return fmt.Errorf("%w: %v", device.ErrRadioUnavailable, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	default:
		return device.NormalizeError(err)
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
