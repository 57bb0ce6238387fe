package simulator

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
)

// Connect implements device.Transport.
func (s *Simulator) Connect(id string, _ device.ConnectOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked("connect", id, device.NoneKey)

	if !s.power.Usable() {
		return device.ErrRadioUnavailable
	}
	p, ok := s.peripherals.Get(id)
	if !ok {
		s.postLocked(0, device.ConnectFailedEvent{Device: id, Err: fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)}, false)
		return nil
	}
	if p.unreachable {
		s.logger.WithField("device", id).Debug("Simulated peripheral is unreachable, connect will not complete")
		return nil
	}
	p.connected = true
	s.postLocked(p.connectWait.delay, device.ConnectedEvent{Device: id}, false)
	return nil
}

// Disconnect implements device.Transport.
func (s *Simulator) Disconnect(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked("disconnect", id, device.NoneKey)

	p, ok := s.peripherals.Get(id)
	if !ok || !p.connected {
		return nil
	}
	p.connected = false
	p.unsubscribeAll()
	s.postLocked(0, device.DisconnectedEvent{Device: id}, false)
	return nil
}

// DiscoverServices implements device.Transport.
func (s *Simulator) DiscoverServices(id string, filter []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked("discover-services", id, device.NoneKey)

	p, err := s.connectedLocked(id)
	if err != nil {
		return err
	}
	s.beginLocked()
	s.postLocked(0, device.ServicesDiscoveredEvent{Device: id, Services: p.serviceIDs(filter)}, true)
	return nil
}

// DiscoverCharacteristics implements device.Transport.
func (s *Simulator) DiscoverCharacteristics(id, serviceID string, filter []string) error {
	serviceID = device.NormalizeUUID(serviceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked("discover-characteristics", id, device.RequestKey{ServiceID: serviceID})

	p, err := s.connectedLocked(id)
	if err != nil {
		return err
	}
	s.beginLocked()
	s.postLocked(0, device.CharacteristicsDiscoveredEvent{
		Device:          id,
		ServiceID:       serviceID,
		Characteristics: p.characteristicInfos(serviceID, filter),
	}, true)
	return nil
}

// ReadCharacteristic implements device.Transport.
func (s *Simulator) ReadCharacteristic(id string, key device.RequestKey) error {
	key = key.Normalized()

	s.mu.Lock()
	s.recordLocked("read", id, key)
	c, failure, err := s.targetLocked(id, key, device.PropertyRead)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if failure == nil && c.read == nil {
		failure = s.missingStub("read", id, key)
	}
	if failure != nil {
		s.beginLocked()
		s.postLocked(0, device.ValueUpdatedEvent{Device: id, Key: key, Err: failure}, true)
		s.mu.Unlock()
		return nil
	}
	stub, cfg := c.read, c.readCfg
	if !cfg.silent {
		s.beginLocked()
	}
	s.mu.Unlock()

	if cfg.silent {
		return nil
	}
	value, rErr := stub(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.postLocked(cfg.delay, device.ValueUpdatedEvent{Device: id, Key: key, Value: value, Err: rErr}, true)
	return nil
}

// WriteCharacteristic implements device.Transport. Writes without response are
// answered by a ready-to-send event instead of an acknowledgment.
func (s *Simulator) WriteCharacteristic(id string, key device.RequestKey, payload []byte, mode device.WriteMode) error {
	key = key.Normalized()
	required := device.PropertyWrite
	if mode == device.WithoutResponse {
		required = device.PropertyWriteWithoutResponse
	}

	s.mu.Lock()
	s.recordLocked("write", id, key)
	c, failure, err := s.targetLocked(id, key, required)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if failure == nil && c.write == nil {
		failure = s.missingStub("write", id, key)
	}
	if failure != nil {
		s.beginLocked()
		s.postLocked(0, writeOutcome(id, key, mode, nil, failure), true)
		s.mu.Unlock()
		return nil
	}
	stub, cfg := c.write, c.writeCfg
	if !cfg.silent {
		s.beginLocked()
	}
	s.mu.Unlock()

	if cfg.silent {
		return nil
	}
	value, wErr := stub(key, append([]byte(nil), payload...), mode)
	if wErr != nil && mode == device.WithoutResponse {
		s.logger.WithFields(logrus.Fields{
			"device": id,
			"key":    key.String(),
			"error":  wErr,
		}).Debug("Simulated write without response failed silently")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.postLocked(cfg.delay, writeOutcome(id, key, mode, value, wErr), true)
	return nil
}

func writeOutcome(id string, key device.RequestKey, mode device.WriteMode, value []byte, err error) device.Event {
	if mode == device.WithoutResponse {
		return device.ReadyToSendEvent{Device: id}
	}
	return device.WriteAckEvent{Device: id, Key: key, Value: value, Err: err}
}

// SetNotify implements device.Transport.
func (s *Simulator) SetNotify(id string, key device.RequestKey, enabled bool) error {
	key = key.Normalized()

	s.mu.Lock()
	s.recordLocked("set-notify", id, key)
	c, failure, err := s.targetLocked(id, key, device.PropertyNotify)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if failure == nil && c.notify == nil {
		failure = s.missingStub("notify", id, key)
	}
	if failure != nil {
		s.beginLocked()
		s.postLocked(0, device.NotifyStateEvent{Device: id, Key: key, Enabled: enabled, Err: failure}, true)
		s.mu.Unlock()
		return nil
	}
	stub, cfg := c.notify, c.notifyCfg
	if !cfg.silent {
		s.beginLocked()
	}
	s.mu.Unlock()

	if cfg.silent {
		return nil
	}
	emit := func(value []byte, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c.subscribed {
			s.postLocked(0, device.ValueUpdatedEvent{Device: id, Key: key, Value: value, Err: err}, false)
		}
	}
	nErr := stub(key, enabled, emit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if nErr == nil {
		c.subscribed = enabled
	}
	s.postLocked(cfg.delay, device.NotifyStateEvent{Device: id, Key: key, Enabled: enabled, Err: nErr}, true)
	return nil
}

// Scan implements device.Transport. Every peripheral advertising one of the
// requested services (or every peripheral, without a filter) is reported once.
func (s *Simulator) Scan(req device.ScanRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked("scan", "", device.NoneKey)

	if !s.power.Usable() {
		return device.ErrRadioUnavailable
	}
	s.scanning = true
	s.scanFilter = device.NormalizeUUIDs(req.Services)
	for pair := s.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		s.advertiseLocked(pair.Value)
	}
	return nil
}

// StopScan implements device.Transport.
func (s *Simulator) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked("stop-scan", "", device.NoneKey)
	s.scanning = false
	return nil
}

// Advertise re-reports peripheral id if a scan is running.
func (s *Simulator) Advertise(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peripherals.Get(id); ok && s.scanning {
		s.advertiseLocked(p)
	}
}

func (s *Simulator) advertiseLocked(p *peripheral) {
	adv := p.advertisement()
	if len(s.scanFilter) > 0 {
		found := false
		for _, svc := range adv.Services {
			if matchesFilter(svc, s.scanFilter) {
				found = true
				break
			}
		}
		if !found {
			return
		}
	}
	s.postLocked(0, device.DeviceDiscoveredEvent{Advertisement: adv}, false)
}

func (s *Simulator) connectedLocked(id string) (*peripheral, error) {
	p, ok := s.peripherals.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
	}
	if !p.connected {
		return nil, fmt.Errorf("%w: %s", device.ErrNotConnected, id)
	}
	return p, nil
}

// targetLocked resolves a GATT target. err means the request cannot be issued;
// failure is delivered as the request's outcome.
func (s *Simulator) targetLocked(id string, key device.RequestKey, required device.Property) (c *characteristic, failure, err error) {
	p, err := s.connectedLocked(id)
	if err != nil {
		return nil, nil, err
	}
	c = p.characteristic(key, 0, false)
	if c == nil {
		return nil, device.CharacteristicNotFound(key), nil
	}
	if !c.properties.Supports(required) {
		return c, &device.PropertyMismatchError{Key: key, Required: required, Available: c.properties}, nil
	}
	return c, nil, nil
}

func (s *Simulator) missingStub(op, id string, key device.RequestKey) error {
	s.logger.WithFields(logrus.Fields{
		"device": id,
		"key":    key.String(),
		"op":     op,
	}).Error("Simulated request has no stub")
	return fmt.Errorf("%w: %s %s", ErrStubMissing, op, key)
}
