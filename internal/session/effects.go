package session

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
)

// effects collects what a transition must do once the session lock is released.
// apply runs them in a fixed order: callbacks, error mirroring, the transport call,
// gate release and finally a pending disconnect.
type effects struct {
	deliver []func()
	errs    []error

	call *transportCall

	release    bool
	disconnect bool
	// drained marks a disconnect that was deferred until the queue emptied.
	drained bool
}

type transportCall struct {
	ticket uint64
	op     string
	fn     func() error
}

func (fx *effects) complete(h device.ResultHandler, value []byte, err error) {
	if h == nil {
		return
	}
	fx.deliver = append(fx.deliver, func() { h(value, err) })
}

func (fx *effects) notify(fn func()) {
	fx.deliver = append(fx.deliver, fn)
}

func (fx *effects) report(err error) {
	fx.errs = append(fx.errs, err)
}

func (fx *effects) issue(ticket uint64, op string, fn func() error) {
	fx.call = &transportCall{ticket: ticket, op: op, fn: fn}
}

func (s *Session) apply(fx effects) {
	for _, fn := range fx.deliver {
		s.central.Deliver(fn)
	}
	for _, err := range fx.errs {
		s.central.ReportError(s.id, err)
	}
	if fx.call != nil && s.issuing(fx.call.ticket) {
		if err := fx.call.fn(); err != nil {
			s.logger.WithField("device", s.id).WithField("error", err).Errorf("Failed to issue %s", fx.call.op)
			s.failIssued(fx.call.ticket, fx.call.op, err)
		}
	}
	if fx.release {
		s.central.DoneExecute()
	}
	if fx.disconnect {
		if fx.drained {
			s.logger.WithField("device", s.id).Info("Outstanding requests drained, disconnecting")
		}
		if err := s.transport.Disconnect(s.id); err != nil {
			s.handleDisconnected(device.DisconnectedEvent{Device: s.id, Err: device.WrapTransport("disconnect", err)})
		}
	}
}

// issuing reports whether ticket still owns the gate. The operation timer may end
// it between the transition and the transport call, and the gate may already
// belong to the next request by then.
func (s *Session) issuing(ticket uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op := s.state.op; op != nil && op.ticket == ticket {
		return true
	}
	s.logger.WithFields(logrus.Fields{
		"device": s.id,
		"ticket": ticket,
	}).Debug("Request ended before its transport call, skipping it")
	return false
}
