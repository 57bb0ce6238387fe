//go:build test

//go:generate go run github.com/srgg/testify/depend/cmd/dependgen

package main

import (
	"errors"
	"testing"
	"time"

	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/simulator"
	"github.com/srg/gattkit/internal/testutils"
	"github.com/srgg/testify/depend"
)

type SubscribeTestSuite struct {
	CommandTestSuite
}

var levelKey = device.NewRequestKey("180F", "2A19")

type commandResult struct {
	out string
	err error
}

// runAsync starts a command in the background.
func (s *SubscribeTestSuite) runAsync(args ...string) <-chan commandResult {
	done := make(chan commandResult, 1)
	go func() {
		out, err := s.ExecuteCommand(args...)
		done <- commandResult{out, err}
	}()
	return done
}

// awaitSubscribed returns the command's simulator once key is subscribed on it.
func (s *SubscribeTestSuite) awaitSubscribed(id string, key device.RequestKey) *simulator.Simulator {
	sim := s.Simulator()
	s.Require().Eventually(func() bool { return sim.IsSubscribed(id, key) }, 2*time.Second, 10*time.Millisecond,
		"subscription MUST be enabled on the peripheral")
	return sim
}

func (s *SubscribeTestSuite) TestStreamsNotifications() {
	// GOAL: Verify notified values are printed and the subscription is torn down after --count values
	//
	// TEST SCENARIO: Subscribe with --count 2 → two notifications → two lines, notify disabled

	done := s.runAsync("subscribe", TestDeviceAddress1, "180f", "2a19", "--count", "2")
	sim := s.awaitSubscribed(TestDeviceAddress1, levelKey)

	s.Require().NoError(sim.Notify(TestDeviceAddress1, levelKey, []byte{0x01}))
	s.Require().NoError(sim.Notify(TestDeviceAddress1, levelKey, []byte{0x02}))

	r := testutils.Await(s.T(), done, "subscribe command")
	s.Require().NoError(r.err, "subscribe MUST succeed")
	s.Assert().Equal("2a19: 01\n2a19: 02\n", r.out)
	s.Assert().Equal(2, sim.CountCalls("set-notify"), "notifications MUST be disabled before disconnect")
	s.Assert().False(sim.IsSubscribed(TestDeviceAddress1, levelKey))
}

func (s *SubscribeTestSuite) TestDurationEndsStream() {
	// GOAL: Verify --duration ends a quiet subscription without error
	//
	// TEST SCENARIO: Subscribe for 200ms, no notifications → empty output, nil error

	done := s.runAsync("subscribe", TestDeviceAddress1, "180f", "2a19", "--duration", "200ms")
	s.awaitSubscribed(TestDeviceAddress1, levelKey)

	r := testutils.Await(s.T(), done, "subscribe command")
	s.Require().NoError(r.err)
	s.Assert().Empty(r.out)
}

func (s *SubscribeTestSuite) TestLinkLossEndsStream() {
	// GOAL: Verify a dropped link ends the command with ErrConnectionLost
	//
	// TEST SCENARIO: Subscribed → peripheral drops the link → ErrConnectionLost

	done := s.runAsync("subscribe", TestDeviceAddress2, "180d", "2a37")
	sim := s.awaitSubscribed(TestDeviceAddress2, device.NewRequestKey("180D", "2A37"))

	sim.DropConnection(TestDeviceAddress2, errors.New("supervision timeout"))

	r := testutils.Await(s.T(), done, "subscribe command")
	s.Assert().ErrorIs(r.err, ErrConnectionLost)
}

func (s *SubscribeTestSuite) TestNotifyUnsupported() {
	// GOAL: Verify subscribing to a characteristic without notify fails once with a property mismatch
	//
	// TEST SCENARIO: Subscribe to 2A29 (read only) → ErrPropertyMismatch

	_, err := s.ExecuteCommand("subscribe", TestDeviceAddress1, "180a", "2a29", "--count", "1")
	s.Assert().ErrorIs(err, device.ErrPropertyMismatch)
}

func TestSubscribeTestSuite(t *testing.T) {
	depend.RunSuite(t, new(SubscribeTestSuite))
}
