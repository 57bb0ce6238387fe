// Package session implements the per-peripheral request engine: connection state,
// request correlation, on-demand discovery and operation timeouts.
//
// Every mutation of a session happens inside one of the dispatcher entry points
// (submit, execute, HandleEvent, timer callbacks, Connect, Disconnect). Each entry
// point takes the session lock, performs the transition, records the side effects
// it needs and releases the lock before running them, so no user callback or
// transport call ever runs under the lock.
package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
)

// DefaultConnectTimeout applies when Connect is called with a zero timeout.
const DefaultConnectTimeout = 5 * time.Second

// Central is the coordinator a session is attached to.
type Central interface {
	// Request queues action; run is invoked once the action is admitted.
	Request(action device.Action, run func())
	// DoneExecute releases the in-flight gate.
	DoneExecute()
	TimeoutPolicy() device.TimeoutPolicy
	PowerState() device.PowerState
	// Deliver runs fn on the callback goroutine.
	Deliver(fn func())
	// ReportError mirrors a failure onto the global event stream.
	ReportError(deviceID string, err error)
}

// DisconnectHandler is told about every link loss of a session.
type DisconnectHandler func(deviceID string, err error)

// Session is the request engine for one peripheral.
type Session struct {
	id        string
	transport device.Transport
	central   Central
	logger    *logrus.Logger

	mu           sync.RWMutex
	state        state
	adv          device.Advertisement
	onDisconnect DisconnectHandler
}

// New creates a disconnected session for the peripheral id.
func New(id string, transport device.Transport, central Central, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		id:        id,
		transport: transport,
		central:   central,
		logger:    logger,
		state:     newState(),
		adv:       device.Advertisement{ID: id},
	}
}

// ID returns the peripheral identifier.
func (s *Session) ID() string { return s.id }

// Name returns the advertised local name, if any.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adv.Name
}

// RSSI returns the signal strength of the last advertisement.
func (s *Session) RSSI() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adv.RSSI
}

// Advertisement returns the last advertisement seen for this peripheral.
func (s *Session) Advertisement() device.Advertisement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adv
}

// UpdateAdvertisement records fresh scan data.
func (s *Session) UpdateAdvertisement(adv device.Advertisement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adv.ID = s.id
	if adv.Name == "" {
		adv.Name = s.adv.Name
	}
	s.adv = adv
}

// Phase returns the connection phase.
func (s *Session) Phase() device.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.phase
}

// IsConnected reports whether the session is in the connected phase.
func (s *Session) IsConnected() bool {
	return s.Phase() == device.Connected
}

// Pending returns a snapshot of the correlation state.
func (s *Session) Pending() Pending {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.snapshot()
}

// Services returns the discovered services and characteristics of the current link.
func (s *Session) Services() map[string][]device.CharacteristicInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.cache.snapshot()
}

// OnDisconnect installs the handler told about link losses.
func (s *Session) OnDisconnect(h DisconnectHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = h
}

// Read queues a characteristic read. onComplete receives the value or an error.
func (s *Session) Read(key device.RequestKey, onComplete device.ResultHandler) error {
	return s.Submit(device.ReadAction(key, onComplete))
}

// Write queues a characteristic write. An empty payload fails immediately with
// ErrEmptyWritePayload. responseKey may name another characteristic whose next
// value completes the write; pass device.NoneKey to complete on the write itself.
// onComplete may be nil for fire-and-forget writes.
func (s *Session) Write(key device.RequestKey, payload []byte, mode device.WriteMode, responseKey device.RequestKey, onComplete device.ResultHandler) error {
	return s.Submit(device.WriteAction(key, payload, mode, responseKey, onComplete))
}

// Notify enables or disables notifications on key. When enabling, onValue
// receives every notified value, or a single error if the subscription fails.
func (s *Session) Notify(key device.RequestKey, enable bool, onValue device.ResultHandler) error {
	return s.Submit(device.NotifyAction(key, enable, onValue))
}

// Submit queues an arbitrary action. Admission failures are returned and mirrored
// onto the event stream, and the action's callback is not invoked; once admitted,
// the callback is invoked exactly once (or for every value of a notify
// subscription).
func (s *Session) Submit(action device.Action) error {
	action.Key = action.Key.Normalized()
	action.ResponseKey = action.ResponseKey.Normalized()

	if action.Kind == device.ActionWrite && len(action.Payload) == 0 {
		return s.reject(action, device.ErrEmptyWritePayload)
	}

	s.mu.Lock()
	if s.state.phase != device.Connected || s.state.deferredDisconnect {
		phase := s.state.phase
		s.mu.Unlock()
		return s.reject(action, device.NotConnected(phase))
	}
	ticket := s.state.track(action.Key)
	link := s.state.link
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"device": s.id,
		"op":     action.String(),
		"ticket": ticket,
	}).Debug("Request queued")

	s.central.Request(action, func() { s.execute(ticket, link, action) })
	return nil
}

// reject mirrors an admission failure onto the event stream and returns it.
func (s *Session) reject(action device.Action, err error) error {
	s.logger.WithFields(logrus.Fields{
		"device": s.id,
		"op":     action.String(),
		"error":  err,
	}).Debug("Request rejected")
	s.central.ReportError(s.id, err)
	return err
}

// execute runs once the coordinator admits the action.
func (s *Session) execute(ticket, link uint64, action device.Action) {
	var fx effects

	s.mu.Lock()
	if s.state.phase != device.Connected || s.state.link != link {
		err := device.NotConnected(s.state.phase)
		s.state.untrack(ticket)
		fx.complete(action.Handler(), nil, err)
		fx.report(err)
		fx.release = true
		s.checkDeferredDisconnect(&fx)
		s.mu.Unlock()
		s.apply(fx)
		return
	}

	op := &operation{ticket: ticket, action: action, stage: stageIdle}
	s.state.op = op
	if policy := s.central.TimeoutPolicy(); policy.Enabled {
		s.state.timeout.arm(policy.Duration, ticket, func() { s.onTimeout(ticket, policy) })
	}
	s.advance(op, &fx)
	s.mu.Unlock()

	s.apply(fx)
}

// advance moves op to its next stage: discovery when the target is unknown,
// otherwise the transport call itself. Caller holds the lock.
func (s *Session) advance(op *operation, fx *effects) {
	key := op.action.Key
	char, missing := s.state.cache.lookup(key)

	switch missing {
	case discoverService:
		op.stage, op.discovering = stageAwaitingDiscovery, discoverService
		fx.issue(op.ticket, "discover services", func() error {
			return s.transport.DiscoverServices(s.id, []string{key.ServiceID})
		})
	case discoverCharacteristic:
		op.stage, op.discovering = stageAwaitingDiscovery, discoverCharacteristic
		fx.issue(op.ticket, "discover characteristics", func() error {
			return s.transport.DiscoverCharacteristics(s.id, key.ServiceID, []string{key.CharacteristicID})
		})
	default:
		if !char.Properties.Supports(op.action.Property()) {
			s.finish(op, nil, &device.PropertyMismatchError{
				Key:       key,
				Required:  op.action.Property(),
				Available: char.Properties,
			}, fx)
			return
		}
		op.stage, op.discovering = stageAwaitingValue, discoverNone
		s.dispatch(op, fx)
	}
}

// dispatch issues the GATT operation itself. Caller holds the lock.
func (s *Session) dispatch(op *operation, fx *effects) {
	a := op.action
	switch a.Kind {
	case device.ActionRead:
		fx.issue(op.ticket, "read", func() error {
			return s.transport.ReadCharacteristic(s.id, a.Key)
		})
	case device.ActionWrite:
		fx.issue(op.ticket, "write", func() error {
			return s.transport.WriteCharacteristic(s.id, a.Key, a.Payload, a.Mode)
		})
	case device.ActionNotify:
		fx.issue(op.ticket, "set notify", func() error {
			return s.transport.SetNotify(s.id, a.Key, a.Enable)
		})
	}
}

// retire ends op without invoking its callback. Caller holds the lock.
func (s *Session) retire(op *operation, fx *effects) bool {
	if s.state.op != op || op.stage == stageDone {
		return false
	}
	s.state.timeout.cancel()
	op.stage = stageDone
	s.state.op = nil
	s.state.untrack(op.ticket)
	fx.release = true
	s.checkDeferredDisconnect(fx)
	return true
}

// finish ends op and reports the outcome to its callback. Caller holds the lock.
func (s *Session) finish(op *operation, value []byte, err error, fx *effects) {
	if !s.retire(op, fx) {
		return
	}
	fx.complete(op.action.Handler(), value, err)
	if err != nil {
		fx.report(err)
	}

	entry := s.logger.WithFields(logrus.Fields{
		"device": s.id,
		"op":     op.action.String(),
		"ticket": op.ticket,
	})
	if err != nil {
		entry.WithField("error", err).Debug("Request failed")
	} else {
		entry.Debug("Request completed")
	}
}

// checkDeferredDisconnect starts a requested graceful disconnect once nothing is
// outstanding. Caller holds the lock.
func (s *Session) checkDeferredDisconnect(fx *effects) {
	if !s.state.deferredDisconnect || s.state.outstanding.Len() > 0 || s.state.op != nil {
		return
	}
	s.state.deferredDisconnect = false
	if s.state.phase == device.Connected {
		s.state.phase = device.Disconnecting
		fx.disconnect = true
		fx.drained = true
	}
}

// onTimeout fires from the operation timer.
func (s *Session) onTimeout(ticket uint64, policy device.TimeoutPolicy) {
	var fx effects

	s.mu.Lock()
	op := s.state.op
	if op == nil || op.ticket != ticket || s.state.timeout.ticket != ticket {
		s.mu.Unlock()
		return
	}
	cause := classify(op)
	s.logger.WithFields(logrus.Fields{
		"device": s.id,
		"op":     op.action.String(),
		"cause":  cause.String(),
		"policy": policy.String(),
	}).Warn("Request timed out")
	s.finish(op, nil, &device.TimeoutError{
		Cause:  cause,
		Policy: policy,
		Key:    op.action.CorrelationKey(),
	}, &fx)
	s.mu.Unlock()

	s.apply(fx)
}

// failIssued fails the operation whose transport call could not be issued.
func (s *Session) failIssued(ticket uint64, op string, err error) {
	var fx effects

	s.mu.Lock()
	if cur := s.state.op; cur != nil && cur.ticket == ticket {
		s.finish(cur, nil, device.WrapTransport(op, err), &fx)
	}
	s.mu.Unlock()

	s.apply(fx)
}
