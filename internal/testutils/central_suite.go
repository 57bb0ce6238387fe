//go:build test

package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/central"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/session"
	"github.com/srg/gattkit/internal/simulator"
	"github.com/stretchr/testify/suite"
)

// DefaultPeripheralID is the address of the peripheral every SimulatedCentralSuite
// test gets unless it configures its own.
const DefaultPeripheralID = "AA:BB:CC:DD:EE:FF"

// Battery service keys of the default peripheral.
var (
	BatteryLevel = device.NewRequestKey("180F", "2A19")
	BatteryState = device.NewRequestKey("180F", "2A1A")
)

// SimulatedCentralSuite runs a coordinator over the simulator.
//
// Basic usage (default battery peripheral):
//
//	type ReadSuite struct {
//	    testutils.SimulatedCentralSuite
//	}
//
// Custom peripherals are configured before the parent SetupTest runs:
//
//	func (s *ReadSuite) SetupTest() {
//	    s.WithPeripheral("11:22:33:44:55:66").
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//	    s.SimulatedCentralSuite.SetupTest() // Call parent last to apply configuration
//	}
type SimulatedCentralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Timeout is the operation timeout policy; disabled unless a test sets it before SetupTest.
	Timeout device.TimeoutPolicy
	// Delay is the simulator event delay.
	Delay time.Duration

	Sim     *simulator.Simulator
	Central *central.Coordinator

	peripherals []*PeripheralBuilder
}

func (s *SimulatedCentralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest builds the simulator and starts the coordinator.
func (s *SimulatedCentralSuite) SetupTest() {
	if len(s.peripherals) == 0 {
		s.peripherals = append(s.peripherals, createDefaultPeripheral())
	}

	s.Sim = simulator.New(s.Logger, simulator.Options{Delay: s.Delay})
	for _, b := range s.peripherals {
		_, err := s.Sim.AddPeripheral(b.Build())
		s.Require().NoError(err, "peripheral profile MUST be valid")
	}

	s.Central = central.New(s.Sim, central.Options{
		Timeout:        s.Timeout,
		ConnectTimeout: time.Second,
		ScanTimeout:    200 * time.Millisecond,
		Stub:           true,
	}, s.Logger)
	s.Require().NoError(s.Central.Init(context.Background()), "coordinator MUST start")
}

// TearDownTest shuts the coordinator down and resets the configuration.
func (s *SimulatedCentralSuite) TearDownTest() {
	if s.Central != nil {
		s.Assert().NoError(s.Central.Shutdown(), "coordinator MUST shut down cleanly")
	}
	s.Central = nil
	s.Sim = nil
	s.peripherals = nil
	s.Timeout = device.TimeoutDisabled()
	s.Delay = 0
}

// WithPeripheral adds a peripheral to the simulator of the next test.
func (s *SimulatedCentralSuite) WithPeripheral(id string) *PeripheralBuilder {
	b := CreatePeripheral(id)
	s.peripherals = append(s.peripherals, b)
	return b
}

// Connect opens a link to id and waits for it.
func (s *SimulatedCentralSuite) Connect(id string) *session.Session {
	done := make(chan error, 1)
	s.Require().NoError(s.Central.Connect(id, func(_ *session.Session, err error) { done <- err }), "connect MUST be admitted")
	s.Require().NoError(Await(s.T(), done, "connect to "+id), "connect MUST succeed")
	return s.Central.Session(id)
}

// Result is the outcome an operation callback received.
type Result struct {
	Value []byte
	Err   error
}

// Capture returns a handler that forwards every outcome to the returned channel.
func Capture() (device.ResultHandler, <-chan Result) {
	ch := make(chan Result, 64)
	return func(value []byte, err error) { ch <- Result{Value: value, Err: err} }, ch
}

// createDefaultPeripheral returns a peripheral with a Battery Service (180F):
// Battery Level (2A19) readable and notifying at 50%, plus a writable 2A1A.
func createDefaultPeripheral() *PeripheralBuilder {
	return CreatePeripheralFromJSON(`
		{
			"id": %q,
			"name": "Battery",
			"services": [
				{
					"uuid": "180F",
					"characteristics": [
						{ "uuid": "2A19", "properties": "read,notify", "value": [50] },
						{ "uuid": "2A1A", "properties": "read,write,write-without-response", "value": [0] }
					]
				}
			]
		}`, DefaultPeripheralID)
}
