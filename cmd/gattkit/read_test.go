//go:build test

//go:generate go run github.com/srgg/testify/depend/cmd/dependgen

package main

import (
	"testing"

	"github.com/srg/gattkit/internal/device"
	"github.com/srgg/testify/depend"
)

type ReadTestSuite struct {
	CommandTestSuite
}

func (s *ReadTestSuite) TestOutputFormats() {
	// GOAL: Verify single and multi-characteristic read output
	//
	// TEST SCENARIO: raw string, --hex, comma-separated list → expected text

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "raw bytes", args: []string{"180a", "2a29"}, want: "ACME"},
		{name: "hex", args: []string{"180f", "2a19", "--hex"}, want: "64\n"},
		{name: "multiple characteristics", args: []string{"180f", "2a19,2A1A"}, want: "2a19: 64\n2a1a: 01\n"},
		{name: "decoded", args: []string{"180f", "2a19", "--decode"}, want: "Battery Level: 100%\n"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.resetFlags()
			out, err := s.ExecuteCommand(append([]string{"read", TestDeviceAddress1}, tt.args...)...)
			s.Require().NoError(err, "read MUST succeed")
			s.Assert().Equal(tt.want, out)
		})
	}
}

func (s *ReadTestSuite) TestReadsShareOneDiscovery() {
	// GOAL: Verify queued reads of one service reuse the discovered attributes
	//
	// TEST SCENARIO: Read two characteristics → one service discovery, two reads

	_, err := s.ExecuteCommand("read", TestDeviceAddress1, "180f", "2a19,2a1a")
	s.Require().NoError(err, "read MUST succeed")

	sim := s.Simulator()
	s.Assert().Equal(1, sim.CountCalls("discover-services"), "service discovery MUST run once")
	s.Assert().Equal(2, sim.CountCalls("read"))
	s.Assert().Equal(1, sim.MaxInFlight(), "reads MUST run one at a time")
	s.Assert().False(sim.IsConnected(TestDeviceAddress1), "command MUST disconnect")
}

func (s *ReadTestSuite) TestFailures() {
	// GOAL: Verify target and connection failures surface as typed errors
	//
	// TEST SCENARIO: missing characteristic, notify-only characteristic, unknown device

	_, err := s.ExecuteCommand("read", TestDeviceAddress1, "180f", "2a1b")
	s.Assert().ErrorIs(err, device.ErrCharacteristicNotFound)

	_, err = s.ExecuteCommand("read", TestDeviceAddress2, "180d", "2a37")
	s.Assert().ErrorIs(err, device.ErrPropertyMismatch)

	_, err = s.ExecuteCommand("read", "00:00:00:00:00:09", "180f", "2a19")
	s.Assert().ErrorContains(err, "failed to connect")

	_, err = s.ExecuteCommand("read", TestDeviceAddress1, "180f", "zz")
	s.Assert().ErrorIs(err, device.ErrInvalidUUID)
}

func TestReadTestSuite(t *testing.T) {
	depend.RunSuite(t, new(ReadTestSuite))
}
