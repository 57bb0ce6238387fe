// Package devicefactory builds the transport and coordinator a configuration selects.
package devicefactory

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/bluez"
	"github.com/srg/gattkit/internal/central"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/device/go-ble"
	"github.com/srg/gattkit/internal/device/tinygo"
	"github.com/srg/gattkit/internal/simulator"
	"github.com/srg/gattkit/pkg/config"
)

// TransportFactory creates the radio driver for cfg.
// This is a variable so that it can be overridden in tests.
var TransportFactory = NewTransport

// NewTransport creates the driver cfg.Driver names. In test mode it returns a
// *simulator.Simulator populated with cfg.Stub.Devices.
func NewTransport(cfg *config.Config, logger *logrus.Logger) (device.Transport, error) {
	if cfg.UsesSimulator() {
		sim := simulator.New(logger, simulator.Options{Delay: cfg.Stub.Delay})
		for i, profile := range cfg.Stub.Devices {
			if _, err := sim.AddPeripheral(profile); err != nil {
				return nil, fmt.Errorf("stub device %d: %w", i, err)
			}
		}
		return sim, nil
	}

	var power device.PowerSource
	if runtime.GOOS == "linux" {
		power = bluez.NewPowerMonitor(cfg.Adapter, logger)
	}

	switch cfg.Driver {
	case config.DriverTinyGo:
		return tinygo.New(logger, tinygo.Options{
			WriteRate:  cfg.WriteRate,
			WriteBurst: cfg.WriteBurst,
			Power:      power,
		}), nil
	case config.DriverGoBLE:
		return goble.New(logger, goble.Options{
			WriteRate:  cfg.WriteRate,
			WriteBurst: cfg.WriteBurst,
			Power:      power,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

// NewCoordinator wires the configured transport into a coordinator. The transport
// is returned as well so test-mode callers can drive the simulator.
func NewCoordinator(cfg *config.Config, logger *logrus.Logger) (*central.Coordinator, device.Transport, error) {
	transport, err := TransportFactory(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	c := central.New(transport, central.Options{
		Timeout:         cfg.TimeoutPolicy(),
		ConnectTimeout:  cfg.ConnectTimeout,
		ScanTimeout:     cfg.ScanTimeout,
		EventHistory:    cfg.EventHistory,
		SubscriberDepth: cfg.SubscriberDepth,
		Stub:            cfg.UsesSimulator(),
	}, logger)
	return c, transport, nil
}
