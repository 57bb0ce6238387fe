package session

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
)

// Connect opens the link. A zero timeout means DefaultConnectTimeout. onComplete
// is called once on the callback goroutine with nil or the failure; a still-pending
// earlier attempt is failed with ErrConnectSuperseded first.
//
// The only synchronous failure is ErrRadioUnavailable, when the radio is known to
// be unusable; onComplete is not invoked in that case.
func (s *Session) Connect(timeout time.Duration, opts device.ConnectOptions, onComplete func(error)) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	if opts.Timeout <= 0 {
		opts.Timeout = timeout
	}

	if power := s.central.PowerState(); power != device.PowerUnknown && !power.Usable() {
		return device.ErrRadioUnavailable
	}

	var fx effects

	s.mu.Lock()
	if s.state.phase == device.Connected {
		s.mu.Unlock()
		fx.notify(connectCallback(onComplete, nil))
		s.apply(fx)
		return nil
	}

	if s.state.phase == device.Disconnecting {
		// The closing link is finished off here; its disconnect event arrives
		// while the new attempt is pending and is dropped then.
		s.detach(nil, &fx)
	}

	if prev := s.state.connect; prev != nil {
		prev.timer.Stop()
		s.state.connect = nil
		s.logger.WithField("device", s.id).Warn("Superseding pending connect")
		fx.notify(connectCallback(prev.onComplete, device.ErrConnectSuperseded))
	}

	s.state.nextConnect++
	attempt := &connectAttempt{
		seq:        s.state.nextConnect,
		timeout:    timeout,
		onComplete: onComplete,
	}
	seq := attempt.seq
	attempt.timer = time.AfterFunc(timeout, func() { s.onConnectTimeout(seq) })
	s.state.connect = attempt
	s.state.phase = device.Connecting
	s.state.attached = true
	s.mu.Unlock()

	s.apply(fx)

	s.logger.WithFields(logrus.Fields{
		"device":  s.id,
		"timeout": timeout,
	}).Info("Connecting")

	if err := s.transport.Connect(s.id, opts); err != nil {
		s.handleConnectFailed(device.ConnectFailedEvent{Device: s.id, Err: err})
	}
	return nil
}

// Disconnect closes the link. When immediate is false and requests are still
// outstanding, the link is kept until the last one completes. When immediate is
// true, the session is torn down before the transport is asked to close: the
// in-flight request fails with ErrNotConnected, the disconnect handler is told
// right away and every later event of the old link is dropped, so Connect may be
// called again at once.
func (s *Session) Disconnect(immediate bool) error {
	var fx effects

	s.mu.Lock()
	if s.state.phase != device.Connected {
		phase := s.state.phase
		s.mu.Unlock()
		return device.NotConnected(phase)
	}

	if !immediate && (s.state.outstanding.Len() > 0 || s.state.op != nil) {
		s.state.deferredDisconnect = true
		n := s.state.outstanding.Len()
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"device":      s.id,
			"outstanding": n,
		}).Info("Disconnect deferred until outstanding requests complete")
		return nil
	}

	if immediate {
		s.detach(nil, &fx)
	} else {
		s.state.phase = device.Disconnecting
		s.state.deferredDisconnect = false
	}
	fx.disconnect = true
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"device":    s.id,
		"immediate": immediate,
	}).Info("Disconnecting")

	s.apply(fx)
	return nil
}

func (s *Session) handleConnected(e device.ConnectedEvent) {
	var fx effects

	s.mu.Lock()
	if !s.state.attached || s.state.phase != device.Connecting {
		s.mu.Unlock()
		s.stale(e)
		return
	}
	if c := s.state.connect; c != nil {
		c.timer.Stop()
		s.state.connect = nil
		fx.notify(connectCallback(c.onComplete, nil))
	}
	s.state.phase = device.Connected
	s.mu.Unlock()

	s.logger.WithField("device", s.id).Info("Connected")
	s.apply(fx)
}

func (s *Session) handleConnectFailed(e device.ConnectFailedEvent) {
	var fx effects

	s.mu.Lock()
	c := s.state.connect
	if c == nil || s.state.phase != device.Connecting {
		s.mu.Unlock()
		s.stale(e)
		return
	}
	c.timer.Stop()
	s.state.connect = nil
	s.state.phase = device.Disconnected
	s.state.attached = false

	err := device.WrapTransport("connect", device.NormalizeError(e.Err))
	fx.notify(connectCallback(c.onComplete, err))
	fx.report(err)
	s.mu.Unlock()

	s.logger.WithField("device", s.id).WithField("error", e.Err).Warn("Connect failed")
	s.apply(fx)
}

func (s *Session) onConnectTimeout(seq uint64) {
	var fx effects

	s.mu.Lock()
	c := s.state.connect
	if c == nil || c.seq != seq {
		s.mu.Unlock()
		return
	}
	s.state.connect = nil
	s.state.phase = device.Disconnected
	s.state.attached = false

	err := &device.ConnectTimeoutError{Timeout: c.timeout}
	fx.notify(connectCallback(c.onComplete, err))
	fx.report(err)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"device":  s.id,
		"timeout": c.timeout,
	}).Warn("Connect timed out")

	s.apply(fx)
	if dErr := s.transport.Disconnect(s.id); dErr != nil {
		s.logger.WithField("device", s.id).WithField("error", dErr).Debug("Cancel of timed out connect failed")
	}
}

// handleDisconnected tears the link state down when the transport reports the link
// gone. A clean disconnect seen while a connect is pending is the echo of a link
// the session already detached from, and is dropped.
func (s *Session) handleDisconnected(e device.DisconnectedEvent) {
	var fx effects

	s.mu.Lock()
	wasPhase := s.state.phase
	if (wasPhase == device.Disconnected && s.state.connect == nil) ||
		(wasPhase == device.Connecting && e.Err == nil) {
		s.mu.Unlock()
		s.stale(e)
		return
	}

	cause := e.Err
	if cause != nil {
		cause = device.NormalizeError(cause)
	}
	s.detach(cause, &fx)
	s.mu.Unlock()

	entry := s.logger.WithFields(logrus.Fields{
		"device": s.id,
		"was":    wasPhase.String(),
	})
	if cause != nil {
		entry.WithField("error", cause).Warn("Disconnected")
	} else {
		entry.Info("Disconnected")
	}

	s.apply(fx)
}

// detach ends the current link: a pending connect and the in-flight request fail,
// subscriptions, outstanding requests and the discovery cache are dropped, and the
// disconnect handler is told. Requests still queued for the old link fail when the
// coordinator admits them. Caller holds the lock.
func (s *Session) detach(cause error, fx *effects) {
	if c := s.state.connect; c != nil {
		c.timer.Stop()
		s.state.connect = nil
		connErr := cause
		if connErr == nil {
			connErr = device.NotConnected(device.Disconnected)
		}
		fx.notify(connectCallback(c.onComplete, connErr))
	}

	s.state.phase = device.Disconnected
	s.state.attached = false
	s.abortInFlight(device.NotConnected(device.Disconnected), fx)
	s.state.subscriptions = make(map[device.RequestKey]device.ResultHandler)
	s.state.resetOutstanding()
	s.state.cache.clear()
	s.state.deferredDisconnect = false
	s.state.link++

	if h := s.onDisconnect; h != nil {
		id := s.id
		fx.notify(func() { h(id, cause) })
	}
	if cause != nil {
		fx.report(cause)
	}
}

// abortInFlight fails the admitted request, if any. Requests still queued in the
// coordinator fail with ErrNotConnected when they are admitted. Caller holds the lock.
func (s *Session) abortInFlight(err error, fx *effects) {
	if op := s.state.op; op != nil {
		s.finish(op, nil, err, fx)
	}
}

func connectCallback(cb func(error), err error) func() {
	return func() {
		if cb != nil {
			cb(err)
		}
	}
}
