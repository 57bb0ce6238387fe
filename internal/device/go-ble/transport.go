// Package goble implements device.Transport on top of github.com/go-ble/ble.
//
// go-ble exposes a blocking API. Every peripheral gets its own serial worker that
// runs the blocking calls in issue order, and every outcome is handed to the event
// sink from a single event goroutine, so the sink sees events in a stable order.
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
	"golang.org/x/time/rate"
)

// Options configures the go-ble transport.
type Options struct {
	// WriteRate paces writes without response (writes per second); zero disables pacing.
	WriteRate  float64
	WriteBurst int
	// Power, when set, reports radio power changes (BlueZ on Linux). Without it the
	// radio is reported powered on once the ble.Device is up.
	Power device.PowerSource
}

// Transport is a device.Transport backed by go-ble.
type Transport struct {
	logger  *logrus.Logger
	opts    Options
	limiter *rate.Limiter

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	dev      ble.Device
	sink     device.EventSink
	events   *groutine.Serial
	links    map[string]*link
	scanStop context.CancelFunc
}

// New creates a go-ble transport. The radio is opened by Start.
func New(logger *logrus.Logger, opts Options) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	t := &Transport{
		logger: logger,
		opts:   opts,
		links:  make(map[string]*link),
	}
	if opts.WriteRate > 0 {
		burst := opts.WriteBurst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(opts.WriteRate), burst)
	}
	return t
}

// Start implements device.Transport.
func (t *Transport) Start(ctx context.Context, sink device.EventSink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events != nil {
		return errors.New("go-ble transport already started")
	}

	t.ctx, t.cancel = context.WithCancel(ctx)
	t.sink = sink
	t.events = groutine.NewSerial(t.ctx, "goble-events")

	dev, err := DeviceFactory()
	if err != nil {
		err = NormalizeError(err)
		if !errors.Is(err, device.ErrRadioUnavailable) {
			t.cancel()
			t.events.Close()
			t.events = nil
			return fmt.Errorf("failed to create BLE device: %w", err)
		}
		t.logger.WithField("error", err).Warn("Bluetooth radio is not available")
		t.postLocked(device.PowerStateEvent{State: device.PowerOff})
		return nil
	}
	t.dev = dev
	ble.SetDefaultDevice(dev)

	if t.opts.Power != nil {
		power := t.opts.Power
		groutine.Go(t.ctx, "goble-power", func(ctx context.Context) {
			if err := power.Watch(ctx, func(state device.PowerState) {
				t.post(device.PowerStateEvent{State: state})
			}); err != nil && !errors.Is(err, context.Canceled) {
				t.logger.WithField("error", err).Warn("Power monitor stopped, assuming radio is on")
				t.post(device.PowerStateEvent{State: device.PowerOn})
			}
		})
	} else {
		t.postLocked(device.PowerStateEvent{State: device.PowerOn})
	}

	t.logger.Debug("go-ble transport started")
	return nil
}

// Stop implements device.Transport.
func (t *Transport) Stop() error {
	t.mu.Lock()
	if t.events == nil {
		t.mu.Unlock()
		return nil
	}
	if t.scanStop != nil {
		t.scanStop()
		t.scanStop = nil
	}
	links := t.links
	t.links = make(map[string]*link)
	dev, events, cancel := t.dev, t.events, t.cancel
	t.dev, t.events = nil, nil
	t.mu.Unlock()

	for _, l := range links {
		l.close(true)
	}
	cancel()
	events.Close()

	if dev != nil {
		if err := dev.Stop(); err != nil {
			return NormalizeError(err)
		}
	}
	return nil
}

// post hands ev to the event goroutine.
func (t *Transport) post(ev device.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.postLocked(ev)
}

func (t *Transport) postLocked(ev device.Event) {
	if t.events == nil {
		return
	}
	sink := t.sink
	t.events.Submit(func() { sink.HandleEvent(ev) })
}

// Connect implements device.Transport.
func (t *Transport) Connect(id string, opts device.ConnectOptions) error {
	t.mu.Lock()
	if t.dev == nil {
		t.mu.Unlock()
		return device.ErrRadioUnavailable
	}
	prev, ok := t.links[id]
	if ok && prev.connected() {
		t.mu.Unlock()
		t.post(device.ConnectedEvent{Device: id})
		return nil
	}
	l := newLink(t, id)
	t.links[id] = l
	t.mu.Unlock()

	// A newer connect replaces a dial still in flight; the old attempt is
	// cancelled without reporting anything.
	if ok {
		t.logger.WithField("device", id).Debug("Cancelling in-flight dial for a newer connect")
		prev.close(false)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l.run(func(ctx context.Context) { l.dial(ctx, timeout) })
	return nil
}

// Disconnect implements device.Transport.
func (t *Transport) Disconnect(id string) error {
	t.mu.Lock()
	l, ok := t.links[id]
	delete(t.links, id)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	l.close(true)
	return nil
}

func (t *Transport) link(id string) (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.links[id]
	if !ok || !l.connected() {
		return nil, fmt.Errorf("%w: %s", device.ErrNotConnected, id)
	}
	return l, nil
}

// dropLink forgets l after the peripheral went away on its own.
func (t *Transport) dropLink(l *link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.links[l.id]; ok && cur == l {
		delete(t.links, l.id)
	}
}

// DiscoverServices implements device.Transport.
func (t *Transport) DiscoverServices(id string, filter []string) error {
	l, err := t.link(id)
	if err != nil {
		return err
	}
	l.run(func(context.Context) { l.discoverServices(filter) })
	return nil
}

// DiscoverCharacteristics implements device.Transport.
func (t *Transport) DiscoverCharacteristics(id, serviceID string, filter []string) error {
	l, err := t.link(id)
	if err != nil {
		return err
	}
	l.run(func(context.Context) { l.discoverCharacteristics(device.NormalizeUUID(serviceID), filter) })
	return nil
}

// ReadCharacteristic implements device.Transport.
func (t *Transport) ReadCharacteristic(id string, key device.RequestKey) error {
	l, err := t.link(id)
	if err != nil {
		return err
	}
	l.run(func(context.Context) { l.read(key) })
	return nil
}

// WriteCharacteristic implements device.Transport. Writes without response wait
// for the pacing limiter and are answered by a ready-to-send event.
func (t *Transport) WriteCharacteristic(id string, key device.RequestKey, payload []byte, mode device.WriteMode) error {
	l, err := t.link(id)
	if err != nil {
		return err
	}
	data := append([]byte(nil), payload...)
	l.run(func(ctx context.Context) { l.write(ctx, key, data, mode) })
	return nil
}

// SetNotify implements device.Transport.
func (t *Transport) SetNotify(id string, key device.RequestKey, enabled bool) error {
	l, err := t.link(id)
	if err != nil {
		return err
	}
	l.run(func(context.Context) { l.setNotify(key, enabled) })
	return nil
}

// Scan implements device.Transport. A running scan is replaced.
func (t *Transport) Scan(req device.ScanRequest) error {
	t.mu.Lock()
	if t.dev == nil {
		t.mu.Unlock()
		return device.ErrRadioUnavailable
	}
	if t.scanStop != nil {
		t.scanStop()
	}
	ctx, cancel := context.WithCancel(t.ctx)
	t.scanStop = cancel
	dev := t.dev
	t.mu.Unlock()

	filter := parseUUIDs(req.Services)
	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, req.AllowDuplicates, func(adv ble.Advertisement) {
			if len(filter) > 0 && !advertises(adv, filter) {
				return
			}
			t.post(device.DeviceDiscoveredEvent{Advertisement: toAdvertisement(adv)})
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.logger.WithField("error", err).Error("Scan failed")
			t.post(device.ErrorEvent{Err: device.WrapTransport("scan", NormalizeError(err))})
		}
	})
	return nil
}

// StopScan implements device.Transport.
func (t *Transport) StopScan() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scanStop != nil {
		t.scanStop()
		t.scanStop = nil
	}
	return nil
}

func advertises(adv ble.Advertisement, filter []ble.UUID) bool {
	for _, svc := range adv.Services() {
		for _, want := range filter {
			if svc.Equal(want) {
				return true
			}
		}
	}
	return false
}
