package session

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
)

// HandleEvent routes one transport event for this peripheral. Events that arrive
// after the session detached, or that do not match what is in flight, are dropped.
func (s *Session) HandleEvent(ev device.Event) {
	switch e := ev.(type) {
	case device.ConnectedEvent:
		s.handleConnected(e)
		return
	case device.ConnectFailedEvent:
		s.handleConnectFailed(e)
		return
	case device.DisconnectedEvent:
		s.handleDisconnected(e)
		return
	}

	var fx effects

	s.mu.Lock()
	if !s.state.attached {
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"device": s.id,
			"event":  ev.EventName(),
		}).Debug("Dropping event for detached session")
		return
	}

	switch e := ev.(type) {
	case device.ServicesDiscoveredEvent:
		s.onServicesDiscovered(e, &fx)
	case device.CharacteristicsDiscoveredEvent:
		s.onCharacteristicsDiscovered(e, &fx)
	case device.ValueUpdatedEvent:
		s.onValueUpdated(e, &fx)
	case device.WriteAckEvent:
		s.onWriteAck(e, &fx)
	case device.NotifyStateEvent:
		s.onNotifyState(e, &fx)
	case device.ReadyToSendEvent:
		s.onReadyToSend(&fx)
	}
	s.mu.Unlock()

	s.apply(fx)
}

func (s *Session) stale(ev device.Event) {
	s.logger.WithFields(logrus.Fields{
		"device": s.id,
		"event":  ev.EventName(),
	}).Debug("Ignoring event with no matching request")
}

func (s *Session) onServicesDiscovered(e device.ServicesDiscoveredEvent, fx *effects) {
	op := s.state.op
	if op == nil || op.stage != stageAwaitingDiscovery || op.discovering != discoverService {
		s.stale(e)
		return
	}
	if e.Err != nil {
		s.finish(op, nil, device.WrapTransport("discover services", e.Err), fx)
		return
	}
	s.state.cache.storeServices(e.Services)
	if !s.state.cache.hasService(op.action.Key.ServiceID) {
		s.finish(op, nil, device.ServiceNotFound(op.action.Key), fx)
		return
	}
	s.advance(op, fx)
}

func (s *Session) onCharacteristicsDiscovered(e device.CharacteristicsDiscoveredEvent, fx *effects) {
	op := s.state.op
	if op == nil || op.stage != stageAwaitingDiscovery || op.discovering != discoverCharacteristic ||
		device.NormalizeUUID(e.ServiceID) != op.action.Key.ServiceID {
		s.stale(e)
		return
	}
	if e.Err != nil {
		s.finish(op, nil, device.WrapTransport("discover characteristics", e.Err), fx)
		return
	}
	s.state.cache.storeCharacteristics(op.action.Key.ServiceID, e.Characteristics)
	if _, missing := s.state.cache.lookup(op.action.Key); missing != discoverNone {
		s.finish(op, nil, device.CharacteristicNotFound(op.action.Key), fx)
		return
	}
	s.advance(op, fx)
}

// onValueUpdated feeds the subscription of the key, if any, and completes the
// in-flight read or response-keyed write correlated with it. A single event may
// do both.
func (s *Session) onValueUpdated(e device.ValueUpdatedEvent, fx *effects) {
	key := e.Key.Normalized()
	err := device.WrapTransport("read", e.Err)
	matched := false

	if h, ok := s.state.subscriptions[key]; ok {
		matched = true
		fx.complete(h, e.Value, err)
	}

	if op := s.state.op; op != nil && op.stage == stageAwaitingValue && op.awaitsValueUpdate() &&
		op.action.CorrelationKey() == key {
		matched = true
		s.finish(op, e.Value, err, fx)
	}

	if !matched {
		s.stale(e)
	}
}

func (s *Session) onWriteAck(e device.WriteAckEvent, fx *effects) {
	op := s.state.op
	if op == nil || op.stage != stageAwaitingValue || op.action.Kind != device.ActionWrite ||
		op.action.Key != e.Key.Normalized() {
		s.stale(e)
		return
	}
	if e.Err != nil {
		s.finish(op, nil, device.WrapTransport("write", e.Err), fx)
		return
	}
	if op.awaitsValueUpdate() {
		// completed by the response key
		return
	}
	s.finish(op, e.Value, nil, fx)
}

func (s *Session) onNotifyState(e device.NotifyStateEvent, fx *effects) {
	op := s.state.op
	key := e.Key.Normalized()
	if op == nil || op.stage != stageAwaitingValue || op.action.Kind != device.ActionNotify || op.action.Key != key {
		s.stale(e)
		return
	}
	if e.Err != nil {
		s.finish(op, nil, device.WrapTransport("set notify", e.Err), fx)
		return
	}

	if op.action.Enable {
		s.state.subscriptions[key] = op.action.Handler()
	} else {
		delete(s.state.subscriptions, key)
	}
	s.logger.WithFields(logrus.Fields{
		"device":  s.id,
		"key":     key.String(),
		"enabled": op.action.Enable,
	}).Debug("Notification state changed")
	s.retire(op, fx)
}

func (s *Session) onReadyToSend(fx *effects) {
	op := s.state.op
	if op == nil || op.stage != stageAwaitingValue || op.action.Kind != device.ActionWrite ||
		op.action.Mode != device.WithoutResponse || op.awaitsValueUpdate() {
		return
	}
	s.finish(op, nil, nil, fx)
}
