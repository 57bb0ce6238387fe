//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/gattkit/internal/device"
)

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("%w: go-ble has no driver for %s", device.ErrUnsupported, runtime.GOOS)
}
