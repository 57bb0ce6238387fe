package tinygo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// maxAttributeLen is the largest value an ATT attribute can hold.
const maxAttributeLen = 512

// tinygo does not expose characteristic properties on every platform, so
// discovered characteristics advertise the full set and the peripheral has the
// final word.
const assumedProperties = device.PropertyRead | device.PropertyWrite |
	device.PropertyWriteWithoutResponse | device.PropertyNotify

type link struct {
	t      *Transport
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	worker *groutine.Serial

	mu       sync.Mutex
	dev      *bluetooth.Device
	closed   bool
	services map[string]bluetooth.DeviceService
	chars    map[device.RequestKey]bluetooth.DeviceCharacteristic
}

func newLink(t *Transport, id string) *link {
	ctx, cancel := context.WithCancel(t.ctx)
	return &link{
		t:        t,
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		worker:   groutine.NewSerial(ctx, "tinygo-link-"+id),
		services: make(map[string]bluetooth.DeviceService),
		chars:    make(map[device.RequestKey]bluetooth.DeviceCharacteristic),
	}
}

func (l *link) run(fn func(ctx context.Context)) {
	if !l.worker.Submit(func() { fn(l.ctx) }) {
		l.t.logger.WithField("device", l.id).Debug("Link is closed, dropping request")
	}
}

func (l *link) connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev != nil && !l.closed
}

func (l *link) markClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	return true
}

func (l *link) dial(addr bluetooth.Address, timeout time.Duration) {
	l.t.logger.WithFields(logrus.Fields{
		"device":  l.id,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	dev, err := l.t.adapter.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		l.t.dropLink(l)
		if l.markClosed() {
			l.t.post(device.ConnectFailedEvent{Device: l.id, Err: device.NormalizeError(err)})
		}
		l.cancel()
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = dev.Disconnect()
		return
	}
	l.dev = &dev
	l.mu.Unlock()

	l.t.logger.WithField("device", l.id).Info("BLE device connected")
	l.t.post(device.ConnectedEvent{Device: l.id})
}

func (l *link) close(requested bool) {
	if !l.markClosed() {
		return
	}
	l.mu.Lock()
	dev := l.dev
	l.mu.Unlock()
	if dev != nil {
		if err := dev.Disconnect(); err != nil {
			l.t.logger.WithFields(logrus.Fields{
				"device": l.id,
				"error":  err,
			}).Warn("BLE device disconnected with errors")
		}
	}
	l.cancel()
	if requested {
		l.t.post(device.DisconnectedEvent{Device: l.id})
	}
}

func (l *link) discoverServices(filter []string) {
	l.mu.Lock()
	dev := l.dev
	l.mu.Unlock()
	if dev == nil {
		l.t.post(device.ServicesDiscoveredEvent{Device: l.id, Err: device.ErrNotConnected})
		return
	}

	found, err := dev.DiscoverServices(toUUIDs(filter))
	if err != nil {
		l.t.post(device.ServicesDiscoveredEvent{Device: l.id, Err: device.NormalizeError(err)})
		return
	}

	ids := make([]string, 0, len(found))
	l.mu.Lock()
	for _, svc := range found {
		id := fromUUID(svc.UUID())
		l.services[id] = svc
		ids = append(ids, id)
	}
	l.mu.Unlock()
	l.t.post(device.ServicesDiscoveredEvent{Device: l.id, Services: ids})
}

func (l *link) discoverCharacteristics(serviceID string, filter []string) {
	l.mu.Lock()
	svc, ok := l.services[serviceID]
	l.mu.Unlock()
	if !ok {
		l.t.post(device.CharacteristicsDiscoveredEvent{
			Device:    l.id,
			ServiceID: serviceID,
			Err:       fmt.Errorf("service %s has not been discovered", serviceID),
		})
		return
	}

	found, err := svc.DiscoverCharacteristics(toUUIDs(filter))
	if err != nil {
		l.t.post(device.CharacteristicsDiscoveredEvent{Device: l.id, ServiceID: serviceID, Err: device.NormalizeError(err)})
		return
	}

	infos := make([]device.CharacteristicInfo, 0, len(found))
	l.mu.Lock()
	for _, c := range found {
		key := device.NewRequestKey(serviceID, fromUUID(c.UUID()))
		l.chars[key] = c
		infos = append(infos, device.CharacteristicInfo{UUID: key.CharacteristicID, Properties: assumedProperties})
	}
	l.mu.Unlock()
	l.t.post(device.CharacteristicsDiscoveredEvent{Device: l.id, ServiceID: serviceID, Characteristics: infos})
}

func (l *link) target(key device.RequestKey) (bluetooth.DeviceCharacteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.dev == nil {
		return bluetooth.DeviceCharacteristic{}, device.ErrNotConnected
	}
	c, ok := l.chars[key]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, device.CharacteristicNotFound(key)
	}
	return c, nil
}

func (l *link) read(key device.RequestKey) {
	c, err := l.target(key)
	if err != nil {
		l.t.post(device.ValueUpdatedEvent{Device: l.id, Key: key, Err: err})
		return
	}
	buf := make([]byte, maxAttributeLen)
	n, err := c.Read(buf)
	if err != nil {
		l.t.post(device.ValueUpdatedEvent{Device: l.id, Key: key, Err: device.NormalizeError(err)})
		return
	}
	l.t.post(device.ValueUpdatedEvent{Device: l.id, Key: key, Value: buf[:n]})
}

func (l *link) write(ctx context.Context, key device.RequestKey, payload []byte, mode device.WriteMode) {
	c, err := l.target(key)
	if err != nil {
		if mode == device.WithResponse {
			l.t.post(device.WriteAckEvent{Device: l.id, Key: key, Err: err})
		} else {
			l.t.post(device.ErrorEvent{Device: l.id, Err: err})
			l.t.post(device.ReadyToSendEvent{Device: l.id})
		}
		return
	}

	if mode == device.WithResponse {
		_, err = c.Write(payload)
		l.t.post(device.WriteAckEvent{Device: l.id, Key: key, Err: device.NormalizeError(err)})
		return
	}

	if lim := l.t.limiter; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}
	if _, err := c.WriteWithoutResponse(payload); err != nil {
		l.t.logger.WithFields(logrus.Fields{
			"device": l.id,
			"key":    key.String(),
			"error":  err,
		}).Warn("Write without response failed")
		l.t.post(device.ErrorEvent{Device: l.id, Err: device.WrapTransport("write", err)})
	}
	l.t.post(device.ReadyToSendEvent{Device: l.id})
}

func (l *link) setNotify(key device.RequestKey, enabled bool) {
	c, err := l.target(key)
	if err != nil {
		l.t.post(device.NotifyStateEvent{Device: l.id, Key: key, Enabled: enabled, Err: err})
		return
	}
	if enabled {
		err = c.EnableNotifications(func(buf []byte) {
			value := append([]byte(nil), buf...)
			l.t.post(device.ValueUpdatedEvent{Device: l.id, Key: key, Value: value})
		})
	} else {
		err = c.EnableNotifications(nil)
	}
	l.t.post(device.NotifyStateEvent{Device: l.id, Key: key, Enabled: enabled, Err: device.NormalizeError(err)})
}
