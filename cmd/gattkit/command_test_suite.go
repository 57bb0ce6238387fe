//go:build test

package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/devicefactory"
	"github.com/srg/gattkit/internal/simulator"
	"github.com/srg/gattkit/internal/testutils"
	"github.com/srg/gattkit/pkg/config"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent stub device identification
const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestDeviceAddress2 = "00:00:00:00:00:02"
)

// stubDevices is the simulator configuration every command test runs against.
const stubDevices = `
driver: simulator
operation_timeout: 1s
connect_timeout: 1s
stub:
  devices:
    - id: "00:00:00:00:00:01"
      name: Thermometer
      rssi: -42
      services:
        - uuid: "180F"
          characteristics:
            - uuid: "2A19"
              properties: read,notify
              value: [100]
            - uuid: "2A1A"
              properties: read,write,write-without-response
              value: [1]
        - uuid: "180A"
          characteristics:
            - uuid: "2A29"
              properties: read
              value: [65, 67, 77, 69]
    - id: "00:00:00:00:00:02"
      name: HeartRate
      rssi: -70
      services:
        - uuid: "180D"
          characteristics:
            - uuid: "2A37"
              properties: notify
`

// CommandTestSuite runs commands against simulated peripherals loaded from a
// temporary config file.
type CommandTestSuite struct {
	suite.Suite

	ConfigPath string

	// sims receives the simulator of every command run.
	sims chan *simulator.Simulator
}

func (s *CommandTestSuite) SetupTest() {
	s.ConfigPath = filepath.Join(s.T().TempDir(), "gattkit.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(stubDevices), 0o600), "config MUST be written")

	s.sims = make(chan *simulator.Simulator, 8)
	devicefactory.TransportFactory = func(cfg *config.Config, logger *logrus.Logger) (device.Transport, error) {
		t, err := devicefactory.NewTransport(cfg, logger)
		if sim, ok := t.(*simulator.Simulator); ok {
			s.sims <- sim
		}
		return t, err
	}

	s.resetFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.TransportFactory = devicefactory.NewTransport
}

// resetFlags restores command flags to their defaults; cobra keeps values between runs.
func (s *CommandTestSuite) resetFlags() {
	for _, cmd := range rootCmd.Commands() {
		for _, name := range []string{"hex", "decode", "without-response", "response", "count", "duration",
			"format", "services", "allow", "block", "duplicates", "min-rssi"} {
			if f := cmd.Flags().Lookup(name); f != nil {
				if sv, ok := f.Value.(interface{ Replace([]string) error }); ok {
					_ = sv.Replace(nil)
				} else {
					_ = f.Value.Set(f.DefValue)
				}
				f.Changed = false
			}
		}
	}
	for _, name := range []string{"log-level", "driver", "op-timeout", "verbose"} {
		f := rootCmd.PersistentFlags().Lookup(name)
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
}

// ExecuteCommand runs the root command with args against the stub config and
// returns stdout and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(append(args, "--config", s.ConfigPath))
	err := rootCmd.Execute()
	return out.String(), err
}

// Simulator returns the simulator the running command created.
func (s *CommandTestSuite) Simulator() *simulator.Simulator {
	var sims <-chan *simulator.Simulator = s.sims
	return testutils.Await(s.T(), sims, "command simulator")
}
