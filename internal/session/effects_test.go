package session

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/gattkit/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inlineCentral runs callbacks on the caller and records gate releases and mirrored errors.
type inlineCentral struct {
	mu       sync.Mutex
	released int
	reported []error
}

func (c *inlineCentral) Request(_ device.Action, run func()) { run() }

func (c *inlineCentral) DoneExecute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
}

func (c *inlineCentral) TimeoutPolicy() device.TimeoutPolicy { return device.TimeoutDisabled() }
func (c *inlineCentral) PowerState() device.PowerState       { return device.PowerOn }
func (c *inlineCentral) Deliver(fn func())                   { fn() }

func (c *inlineCentral) ReportError(_ string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reported = append(c.reported, err)
}

// closingTransport only counts disconnects; any other call panics on the nil interface.
type closingTransport struct {
	device.Transport
	disconnects int
}

func (t *closingTransport) Disconnect(string) error {
	t.disconnects++
	return nil
}

func connectedSession(t *testing.T) (*Session, *closingTransport, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	tr := &closingTransport{}
	s := New("AA:BB:CC:DD:EE:FF", tr, &inlineCentral{}, logger)
	s.state.phase = device.Connected
	s.state.attached = true
	return s, tr, hook
}

func hasMessage(hook *logtest.Hook, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}

func TestApplySkipsCallOfEndedRequest(t *testing.T) {
	s, _, hook := connectedSession(t)
	// The timer already ended ticket 1 and the gate went to ticket 2.
	s.state.op = &operation{ticket: 2, stage: stageAwaitingValue}

	var issued []uint64
	call := func(ticket uint64) effects {
		var fx effects
		fx.issue(ticket, "read", func() error {
			issued = append(issued, ticket)
			return nil
		})
		return fx
	}

	s.apply(call(1))
	s.apply(call(2))

	assert.Equal(t, []uint64{2}, issued, "only the request owning the gate may reach the transport")
	assert.True(t, hasMessage(hook, "Request ended before its transport call, skipping it"))
}

func TestDrainedMessageOnlyOnDeferredDisconnect(t *testing.T) {
	t.Run("immediate", func(t *testing.T) {
		s, tr, hook := connectedSession(t)
		require.NoError(t, s.Disconnect(true))

		assert.Equal(t, 1, tr.disconnects)
		assert.False(t, hasMessage(hook, "Outstanding requests drained, disconnecting"),
			"immediate disconnect MUST NOT claim a drained queue")
	})

	t.Run("idle graceful", func(t *testing.T) {
		s, tr, hook := connectedSession(t)
		require.NoError(t, s.Disconnect(false))

		assert.Equal(t, 1, tr.disconnects)
		assert.False(t, hasMessage(hook, "Outstanding requests drained, disconnecting"))
	})

	t.Run("deferred", func(t *testing.T) {
		s, tr, hook := connectedSession(t)
		s.state.deferredDisconnect = true

		var fx effects
		s.mu.Lock()
		s.checkDeferredDisconnect(&fx)
		s.mu.Unlock()
		s.apply(fx)

		assert.Equal(t, 1, tr.disconnects)
		assert.True(t, hasMessage(hook, "Outstanding requests drained, disconnecting"))
	})
}

func TestImmediateDisconnectDetachesAtOnce(t *testing.T) {
	s, _, _ := connectedSession(t)
	var causes []error
	s.OnDisconnect(func(_ string, err error) { causes = append(causes, err) })
	link := s.state.link

	require.NoError(t, s.Disconnect(true))

	assert.Equal(t, device.Disconnected, s.Phase(), "session MUST not wait for the transport echo")
	assert.Equal(t, []error{nil}, causes, "handler MUST be told once with no cause")
	assert.Equal(t, link+1, s.state.link, "later events of the old link MUST not match")

	// The echo of the closed link arrives while a new connect is pending.
	s.state.phase = device.Connecting
	s.state.attached = true
	s.HandleEvent(device.DisconnectedEvent{Device: s.id})

	assert.Equal(t, device.Connecting, s.Phase(), "echo MUST NOT tear down the new attempt")
	assert.Len(t, causes, 1, "echo MUST NOT reach the handler")
}
