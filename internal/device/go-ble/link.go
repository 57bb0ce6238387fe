package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/groutine"
)

// link is one peripheral connection. Blocking go-ble calls for it run on worker,
// one at a time, in the order the engine issued them.
type link struct {
	t      *Transport
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	worker *groutine.Serial

	mu       sync.Mutex
	client   ble.Client
	services map[string]*ble.Service
	chars    map[device.RequestKey]*ble.Characteristic
	closed   bool
}

func newLink(t *Transport, id string) *link {
	ctx, cancel := context.WithCancel(t.ctx)
	return &link{
		t:        t,
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		worker:   groutine.NewSerial(ctx, "goble-link-"+id),
		services: make(map[string]*ble.Service),
		chars:    make(map[device.RequestKey]*ble.Characteristic),
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
	return l.client != nil && !l.closed
}

func (l *link) currentClient() ble.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return l.client
}

func (l *link) dial(ctx context.Context, timeout time.Duration) {
	l.t.logger.WithFields(logrus.Fields{
		"device":  l.id,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := ble.Dial(dialCtx, ble.NewAddr(l.id))
	if err != nil {
		l.t.dropLink(l)
		if l.markClosed() {
			l.t.post(device.ConnectFailedEvent{Device: l.id, Err: NormalizeError(err)})
		}
		l.cancel()
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = client.CancelConnection()
		return
	}
	l.client = client
	l.mu.Unlock()

	l.t.logger.WithField("device", l.id).Info("BLE device connected")
	l.t.post(device.ConnectedEvent{Device: l.id})

	groutine.Go(l.ctx, "goble-monitor-"+l.id, func(ctx context.Context) {
		select {
		case <-client.Disconnected():
			l.t.dropLink(l)
			if l.markClosed() {
				l.t.logger.WithField("device", l.id).Warn("BLE device disconnected unexpectedly")
				l.t.post(device.DisconnectedEvent{
					Device: l.id,
					Err:    fmt.Errorf("%w: link lost", device.ErrNotConnected),
				})
			}
			l.cancel()
		case <-ctx.Done():
		}
	})
}

// markClosed reports whether this call closed the link.
func (l *link) markClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	return true
}

// close cancels the connection. When requested is set the disconnect is reported
// to the engine as a clean one.
func (l *link) close(requested bool) {
	if !l.markClosed() {
		return
	}
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()

	if client != nil {
		if err := client.CancelConnection(); err != nil {
			l.t.logger.WithFields(logrus.Fields{
				"device": l.id,
				"error":  err,
			}).Warn("BLE device disconnected with errors")
		} else {
			l.t.logger.WithField("device", l.id).Info("BLE device disconnected successfully")
		}
	}
	l.cancel()
	if requested {
		l.t.post(device.DisconnectedEvent{Device: l.id})
	}
}

func (l *link) discoverServices(filter []string) {
	client := l.currentClient()
	if client == nil {
		l.t.post(device.ServicesDiscoveredEvent{Device: l.id, Err: device.ErrNotConnected})
		return
	}

	found, err := client.DiscoverServices(parseUUIDs(filter))
	if err != nil {
		l.t.post(device.ServicesDiscoveredEvent{Device: l.id, Err: NormalizeError(err)})
		return
	}

	ids := make([]string, 0, len(found))
	l.mu.Lock()
	for _, svc := range found {
		id := device.NormalizeUUID(svc.UUID.String())
		l.services[id] = svc
		ids = append(ids, id)
	}
	l.mu.Unlock()

	l.t.logger.WithFields(logrus.Fields{
		"device":   l.id,
		"services": ids,
	}).Debug("Discovered services")
	l.t.post(device.ServicesDiscoveredEvent{Device: l.id, Services: ids})
}

func (l *link) discoverCharacteristics(serviceID string, filter []string) {
	client := l.currentClient()
	if client == nil {
		l.t.post(device.CharacteristicsDiscoveredEvent{Device: l.id, ServiceID: serviceID, Err: device.ErrNotConnected})
		return
	}

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

	found, err := client.DiscoverCharacteristics(parseUUIDs(filter), svc)
	if err != nil {
		l.t.post(device.CharacteristicsDiscoveredEvent{Device: l.id, ServiceID: serviceID, Err: NormalizeError(err)})
		return
	}

	infos := make([]device.CharacteristicInfo, 0, len(found))
	l.mu.Lock()
	for _, c := range found {
		key := device.NewRequestKey(serviceID, c.UUID.String())
		l.chars[key] = c
		infos = append(infos, device.CharacteristicInfo{
			UUID:       key.CharacteristicID,
			Properties: toProperty(c.Property),
		})
	}
	l.mu.Unlock()

	l.t.post(device.CharacteristicsDiscoveredEvent{Device: l.id, ServiceID: serviceID, Characteristics: infos})
}

// target resolves a discovered characteristic.
func (l *link) target(key device.RequestKey) (ble.Client, *ble.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.client == nil {
		return nil, nil, device.ErrNotConnected
	}
	c, ok := l.chars[key]
	if !ok {
		return nil, nil, device.CharacteristicNotFound(key)
	}
	return l.client, c, nil
}

func (l *link) read(key device.RequestKey) {
	client, c, err := l.target(key)
	if err != nil {
		l.t.post(device.ValueUpdatedEvent{Device: l.id, Key: key, Err: err})
		return
	}
	value, err := client.ReadCharacteristic(c)
	l.t.post(device.ValueUpdatedEvent{Device: l.id, Key: key, Value: value, Err: NormalizeError(err)})
}

func (l *link) write(ctx context.Context, key device.RequestKey, payload []byte, mode device.WriteMode) {
	client, c, err := l.target(key)
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
		err = client.WriteCharacteristic(c, payload, false)
		l.t.post(device.WriteAckEvent{Device: l.id, Key: key, Err: NormalizeError(err)})
		return
	}

	if lim := l.t.limiter; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}
	if err := client.WriteCharacteristic(c, payload, true); err != nil {
		l.t.logger.WithFields(logrus.Fields{
			"device": l.id,
			"key":    key.String(),
			"error":  err,
		}).Warn("Write without response failed")
		l.t.post(device.ErrorEvent{Device: l.id, Err: device.WrapTransport("write", NormalizeError(err))})
	}
	l.t.post(device.ReadyToSendEvent{Device: l.id})
}

func (l *link) setNotify(key device.RequestKey, enabled bool) {
	client, c, err := l.target(key)
	if err != nil {
		l.t.post(device.NotifyStateEvent{Device: l.id, Key: key, Enabled: enabled, Err: err})
		return
	}

	// Subscribe writes the CCCD, which is only known once descriptors are discovered.
	if c.CCCD == nil {
		if _, err := client.DiscoverDescriptors(nil, c); err != nil {
			l.t.post(device.NotifyStateEvent{Device: l.id, Key: key, Enabled: enabled, Err: NormalizeError(err)})
			return
		}
		if c.CCCD == nil {
			l.t.post(device.NotifyStateEvent{
				Device:  l.id,
				Key:     key,
				Enabled: enabled,
				Err:     errors.New("characteristic has no client configuration descriptor"),
			})
			return
		}
	}

	indicate := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
	if enabled {
		err = client.Subscribe(c, indicate, func(data []byte) {
			value := append([]byte(nil), data...)
			l.t.post(device.ValueUpdatedEvent{Device: l.id, Key: key, Value: value})
		})
	} else {
		err = client.Unsubscribe(c, indicate)
	}
	l.t.post(device.NotifyStateEvent{Device: l.id, Key: key, Enabled: enabled, Err: NormalizeError(err)})
}
