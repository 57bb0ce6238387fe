// Package bluez watches the BlueZ adapter over the D-Bus system bus.
package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	propsIface   = "org.freedesktop.DBus.Properties"
	propsSignal  = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// PowerMonitor reports the Powered property of one BlueZ adapter. It implements
// device.PowerSource.
type PowerMonitor struct {
	adapter string
	logger  *logrus.Logger
}

// NewPowerMonitor watches adapter (for example "hci0").
func NewPowerMonitor(adapter string, logger *logrus.Logger) *PowerMonitor {
	if adapter == "" {
		adapter = "hci0"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PowerMonitor{adapter: adapter, logger: logger}
}

func (m *PowerMonitor) path() dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + m.adapter)
}

// Watch reports the current power state, then every change until ctx is done.
func (m *PowerMonitor) Watch(ctx context.Context, onChange func(device.PowerState)) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	path := m.path()
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("subscribe to adapter %s: %w", m.adapter, err)
	}
	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	var v dbus.Variant
	if err := conn.Object(busName, path).Call(propsIface+".Get", 0, adapterIface, "Powered").Store(&v); err != nil {
		m.logger.WithFields(logrus.Fields{
			"adapter": m.adapter,
			"error":   err,
		}).Warn("BlueZ adapter not found")
		onChange(device.PowerUnsupported)
	} else if state, ok := powerFromVariant(v); ok {
		onChange(state)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("system bus connection closed")
			}
			if sig.Path != path {
				continue
			}
			if state, ok := powerFromSignal(sig); ok {
				m.logger.WithFields(logrus.Fields{
					"adapter": m.adapter,
					"state":   state.String(),
				}).Debug("BlueZ adapter power changed")
				onChange(state)
			}
		}
	}
}

// powerFromSignal extracts Powered from an Adapter1 PropertiesChanged signal.
// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
func powerFromSignal(sig *dbus.Signal) (device.PowerState, bool) {
	if sig == nil || sig.Name != propsSignal || len(sig.Body) < 2 {
		return device.PowerUnknown, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != adapterIface {
		return device.PowerUnknown, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return device.PowerUnknown, false
	}
	v, ok := changed["Powered"]
	if !ok {
		return device.PowerUnknown, false
	}
	return powerFromVariant(v)
}

func powerFromVariant(v dbus.Variant) (device.PowerState, bool) {
	powered, ok := v.Value().(bool)
	if !ok {
		return device.PowerUnknown, false
	}
	if powered {
		return device.PowerOn, true
	}
	return device.PowerOff, true
}
