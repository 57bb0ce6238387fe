package main

import (
	"errors"

	"github.com/fatih/color"
	"github.com/srg/gattkit/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was still using it.
	// device.ErrNotConnected, in contrast, means the peripheral was never connected.
	ErrConnectionLost = errors.New("connection lost")
)

var hintColor = color.New(color.FgYellow)

// userHints maps error kinds to a suggestion shown under the error message.
var userHints = []struct {
	err  error
	hint string
}{
	{device.ErrRadioUnavailable, "Turn Bluetooth on (or check the adapter) and try again."},
	{device.ErrConnectTimeout, "Make sure the peripheral is advertising and in range; 'gattkit scan' lists reachable devices."},
	{ErrConnectionLost, "The peripheral went out of range or was switched off."},
	{device.ErrServiceNotFound, "The peripheral does not expose this service; check the service UUID."},
	{device.ErrCharacteristicNotFound, "The service has no such characteristic; check the characteristic UUID."},
	{device.ErrPropertyMismatch, "The characteristic does not allow this operation; try --without-response for writes."},
	{device.ErrTimeout, "The peripheral did not answer in time; raise --op-timeout or check the link quality."},
	{device.ErrEmptyWritePayload, "Provide at least one byte of data."},
	{device.ErrInvalidUUID, "Use 16-bit (180f), 32-bit or full 128-bit hex UUIDs."},
}

// FormatUserError renders err for the terminal, followed by a hint when the
// error kind has one.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, h := range userHints {
		if errors.Is(err, h.err) {
			return msg + "\n  " + hintColor.Sprint(h.hint)
		}
	}
	return msg
}
