//go:build test

//go:generate go run github.com/srgg/testify/depend/cmd/dependgen

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/srg/gattkit/internal/central"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/session"
	"github.com/srg/gattkit/internal/simulator"
	"github.com/srg/gattkit/internal/testutils"
	"github.com/srgg/testify/depend"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const shortTimeout = 100 * time.Millisecond

// TimeoutTestSuite runs the battery peripheral with an enabled operation timeout.
type TimeoutTestSuite struct {
	testutils.SimulatedCentralSuite
}

func (suite *TimeoutTestSuite) SetupTest() {
	suite.Timeout = device.TimeoutAfter(shortTimeout)
	suite.SimulatedCentralSuite.SetupTest()
}

func (suite *TimeoutTestSuite) TestUnansweredReadTimesOut() {
	// GOAL: Verify an unanswered read fails with an operation timeout and frees the gate
	//
	// TEST SCENARIO: Read stub never answers → operation timeout → next read runs normally

	suite.Sim.RegisterRead(testutils.DefaultPeripheralID, testutils.BatteryLevel, device.PropertyRead,
		simulator.StaticRead([]byte{1}), simulator.WithNoResponse())

	sess := suite.Connect(testutils.DefaultPeripheralID)
	h, results := testutils.Capture()
	suite.Require().NoError(sess.Read(testutils.BatteryLevel, h))
	suite.Require().NoError(sess.Read(testutils.BatteryState, h))

	r := testutils.Await(suite.T(), results, "timed out read")
	suite.Assert().ErrorIs(r.Err, device.ErrOperationTimeout)
	suite.Assert().ErrorIs(r.Err, device.ErrTimeout)

	var te *device.TimeoutError
	suite.Require().ErrorAs(r.Err, &te)
	suite.Assert().Equal(testutils.BatteryLevel, te.Key, "timeout MUST name the request key")
	suite.Assert().Equal(shortTimeout, te.Policy.Duration, "timeout MUST carry the policy")

	next := testutils.Await(suite.T(), results, "read after timeout")
	suite.Assert().NoError(next.Err, "queue MUST advance after a timeout")
	suite.Assert().Equal([]byte{0}, next.Value)
}

func (suite *TimeoutTestSuite) TestUnansweredNotifyTimesOut() {
	// GOAL: Verify a subscription whose state change is never confirmed reports a notify-set timeout once
	//
	// TEST SCENARIO: Notify stub never answers → onValue gets ErrNotifySetTimeout once → no subscription recorded

	suite.Sim.RegisterNotify(testutils.DefaultPeripheralID, testutils.BatteryLevel, device.PropertyNotify,
		simulator.AcceptNotify(), simulator.WithNoResponse())

	sess := suite.Connect(testutils.DefaultPeripheralID)
	onValue, values := testutils.Capture()
	suite.Require().NoError(sess.Notify(testutils.BatteryLevel, true, onValue))

	r := testutils.Await(suite.T(), values, "notify timeout")
	suite.Assert().ErrorIs(r.Err, device.ErrNotifySetTimeout)
	testutils.AssertNothing(suite.T(), values, 2*shortTimeout, "second notify callback")
	suite.Assert().Empty(sess.Pending().Subscriptions)
}

func (suite *TimeoutTestSuite) TestResponseKeyWriteTimesOut() {
	// GOAL: Verify a write awaiting its response key times out on that key when only the ack arrives
	//
	// TEST SCENARIO: Write 2A1A expecting 2A19 → ack only → timeout names 2A19

	sess := suite.Connect(testutils.DefaultPeripheralID)
	h, results := testutils.Capture()
	suite.Require().NoError(sess.Write(testutils.BatteryState, []byte{1}, device.WithResponse, testutils.BatteryLevel, h))

	r := testutils.Await(suite.T(), results, "response-keyed write")
	suite.Assert().ErrorIs(r.Err, device.ErrOperationTimeout)

	var te *device.TimeoutError
	suite.Require().ErrorAs(r.Err, &te)
	suite.Assert().Equal(testutils.BatteryLevel, te.Key, "timeout MUST name the response key")
}

func (suite *TimeoutTestSuite) TestLateAnswerIsDropped() {
	// GOAL: Verify an answer arriving after the timeout does not complete anything twice
	//
	// TEST SCENARIO: Read answered after twice the timeout → callback only sees the timeout

	suite.Sim.RegisterRead(testutils.DefaultPeripheralID, testutils.BatteryLevel, device.PropertyRead,
		simulator.StaticRead([]byte{1}), simulator.WithDelay(2*shortTimeout))

	sess := suite.Connect(testutils.DefaultPeripheralID)
	h, results := testutils.Capture()
	suite.Require().NoError(sess.Read(testutils.BatteryLevel, h))

	r := testutils.Await(suite.T(), results, "timed out read")
	suite.Assert().ErrorIs(r.Err, device.ErrOperationTimeout)
	testutils.AssertNothing(suite.T(), results, 3*shortTimeout, "late completion")
}

func TestTimeoutTestSuite(t *testing.T) {
	depend.RunSuite(t, new(TimeoutTestSuite))
}

// DiscoveryTimeoutTestSuite stalls discovery with a mock transport that never answers.
type DiscoveryTimeoutTestSuite struct {
	suite.Suite

	transport *testutils.MockTransport
	central   *central.Coordinator
}

const mockPeripheralID = "11:22:33:44:55:66"

func (suite *DiscoveryTimeoutTestSuite) SetupTest() {
	m := &testutils.MockTransport{}
	m.On("Start", mock.Anything, mock.Anything).Return(nil)
	m.On("Stop").Return(nil)
	m.On("Disconnect", mock.Anything).Return(nil).Maybe()
	m.On("Connect", mockPeripheralID, mock.Anything).
		Run(func(mock.Arguments) { go m.Emit(device.ConnectedEvent{Device: mockPeripheralID}) }).
		Return(nil)

	suite.transport = m
	suite.central = central.New(m, central.Options{
		Timeout: device.TimeoutAfter(shortTimeout),
		Stub:    true,
	}, testutils.NewTestHelper(suite.T()).Logger)
	suite.Require().NoError(suite.central.Init(context.Background()))
}

func (suite *DiscoveryTimeoutTestSuite) TearDownTest() {
	suite.Assert().NoError(suite.central.Shutdown())
}

func (suite *DiscoveryTimeoutTestSuite) connect() *session.Session {
	done := make(chan error, 1)
	suite.Require().NoError(suite.central.Connect(mockPeripheralID, func(_ *session.Session, err error) { done <- err }))
	suite.Require().NoError(testutils.Await(suite.T(), done, "connect"))
	return suite.central.Session(mockPeripheralID)
}

func (suite *DiscoveryTimeoutTestSuite) TestServiceDiscoveryTimeout() {
	// GOAL: Verify a stalled service discovery is classified as a find-service timeout
	//
	// TEST SCENARIO: DiscoverServices never answers → read fails with ErrFindServiceTimeout

	suite.transport.On("DiscoverServices", mockPeripheralID, []string{"180f"}).Return(nil)

	sess := suite.connect()
	h, results := testutils.Capture()
	suite.Require().NoError(sess.Read(testutils.BatteryLevel, h))

	r := testutils.Await(suite.T(), results, "stalled read")
	suite.Assert().ErrorIs(r.Err, device.ErrFindServiceTimeout)
	suite.transport.AssertNotCalled(suite.T(), "ReadCharacteristic", mock.Anything, mock.Anything)
}

func (suite *DiscoveryTimeoutTestSuite) TestCharacteristicDiscoveryTimeout() {
	// GOAL: Verify a stalled characteristic discovery is classified as a find-characteristic timeout
	//
	// TEST SCENARIO: Service found → DiscoverCharacteristics never answers → ErrFindCharacteristicTimeout

	m := suite.transport
	m.On("DiscoverServices", mockPeripheralID, mock.Anything).
		Run(func(mock.Arguments) {
			go m.Emit(device.ServicesDiscoveredEvent{Device: mockPeripheralID, Services: []string{"180F"}})
		}).
		Return(nil)
	m.On("DiscoverCharacteristics", mockPeripheralID, "180f", []string{"2a19"}).Return(nil)

	sess := suite.connect()
	h, results := testutils.Capture()
	suite.Require().NoError(sess.Notify(testutils.BatteryLevel, true, h))

	r := testutils.Await(suite.T(), results, "stalled notify")
	suite.Assert().ErrorIs(r.Err, device.ErrFindCharacteristicTimeout, "discovery MUST take priority over notify-set")
	suite.Assert().NotErrorIs(r.Err, device.ErrNotifySetTimeout)
}

func (suite *DiscoveryTimeoutTestSuite) TestIssueFailureFailsRequest() {
	// GOAL: Verify a transport call that cannot be issued fails the request right away
	//
	// TEST SCENARIO: DiscoverServices returns an error → read fails with ErrTransport before the timeout

	suite.transport.On("DiscoverServices", mockPeripheralID, mock.Anything).Return(device.ErrUnsupported)

	sess := suite.connect()
	h, results := testutils.Capture()
	suite.Require().NoError(sess.Read(testutils.BatteryLevel, h))

	r := testutils.Await(suite.T(), results, "failed read")
	suite.Assert().ErrorIs(r.Err, device.ErrTransport)
	suite.Assert().ErrorIs(r.Err, device.ErrUnsupported)
	suite.Assert().NotErrorIs(r.Err, device.ErrTimeout)
}

func TestDiscoveryTimeoutTestSuite(t *testing.T) {
	depend.RunSuite(t, new(DiscoveryTimeoutTestSuite))
}
