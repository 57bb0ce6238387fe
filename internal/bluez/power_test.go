package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/srg/gattkit/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestPowerFromSignal(t *testing.T) {
	changed := func(props map[string]dbus.Variant) *dbus.Signal {
		return &dbus.Signal{
			Path: "/org/bluez/hci0",
			Name: propsSignal,
			Body: []interface{}{adapterIface, props, []string{}},
		}
	}

	tests := []struct {
		name   string
		sig    *dbus.Signal
		want   device.PowerState
		wantOK bool
	}{
		{name: "powered on", sig: changed(map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}), want: device.PowerOn, wantOK: true},
		{name: "powered off", sig: changed(map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)}), want: device.PowerOff, wantOK: true},
		{name: "unrelated property", sig: changed(map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)})},
		{name: "non-bool powered", sig: changed(map[string]dbus.Variant{"Powered": dbus.MakeVariant("yes")})},
		{name: "device interface", sig: &dbus.Signal{
			Name: propsSignal,
			Body: []interface{}{"org.bluez.Device1", map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}},
		}},
		{name: "other signal", sig: &dbus.Signal{Name: "org.freedesktop.DBus.ObjectManager.InterfacesAdded"}},
		{name: "short body", sig: &dbus.Signal{Name: propsSignal, Body: []interface{}{adapterIface}}},
		{name: "nil", sig: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := powerFromSignal(tt.sig)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNewPowerMonitor_DefaultsAdapter(t *testing.T) {
	m := NewPowerMonitor("", nil)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), m.path())

	m = NewPowerMonitor("hci1", nil)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1"), m.path())
}
