// Package tinygo implements device.Transport on top of tinygo.org/x/bluetooth.
//
// The library connects by address, and an address can only be obtained from a
// scan result, so a peripheral must be seen by a scan before it can be connected.
package tinygo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/groutine"
	"golang.org/x/time/rate"
	"tinygo.org/x/bluetooth"
)

// ErrNotSeen is reported when connecting to a peripheral no scan has reported.
var ErrNotSeen = errors.New("peripheral has not been seen by a scan")

// Options configures the tinygo transport.
type Options struct {
	WriteRate  float64
	WriteBurst int
	// Power, when set, reports radio power changes.
	Power device.PowerSource
}

// Transport is a device.Transport backed by the default tinygo bluetooth adapter.
type Transport struct {
	logger  *logrus.Logger
	opts    Options
	limiter *rate.Limiter
	adapter *bluetooth.Adapter

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sink     device.EventSink
	events   *groutine.Serial
	enabled  bool
	seen     map[string]bluetooth.Address
	links    map[string]*link
	scanning bool
}

// New creates a transport for bluetooth.DefaultAdapter.
func New(logger *logrus.Logger, opts Options) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	t := &Transport{
		logger:  logger,
		opts:    opts,
		adapter: bluetooth.DefaultAdapter,
		seen:    make(map[string]bluetooth.Address),
		links:   make(map[string]*link),
	}
	if opts.WriteRate > 0 {
		burst := max(opts.WriteBurst, 1)
		t.limiter = rate.NewLimiter(rate.Limit(opts.WriteRate), burst)
	}
	return t
}

// Start implements device.Transport.
func (t *Transport) Start(ctx context.Context, sink device.EventSink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events != nil {
		return errors.New("tinygo transport already started")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.sink = sink
	t.events = groutine.NewSerial(t.ctx, "tinygo-events")

	t.adapter.SetConnectHandler(t.onConnectionChange)
	if err := t.adapter.Enable(); err != nil {
		t.logger.WithField("error", err).Warn("Failed to enable Bluetooth adapter")
		t.postLocked(device.PowerStateEvent{State: device.PowerOff})
		return nil
	}
	t.enabled = true

	if t.opts.Power != nil {
		power := t.opts.Power
		groutine.Go(t.ctx, "tinygo-power", func(ctx context.Context) {
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
	return nil
}

// Stop implements device.Transport.
func (t *Transport) Stop() error {
	t.mu.Lock()
	if t.events == nil {
		t.mu.Unlock()
		return nil
	}
	scanning := t.scanning
	t.scanning = false
	links := t.links
	t.links = make(map[string]*link)
	events, cancel := t.events, t.cancel
	t.events = nil
	t.mu.Unlock()

	if scanning {
		_ = t.adapter.StopScan()
	}
	for _, l := range links {
		l.close(false)
	}
	cancel()
	events.Close()
	return nil
}

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

func (t *Transport) onConnectionChange(d bluetooth.Device, connected bool) {
	if connected {
		return
	}
	id := d.Address.String()
	t.mu.Lock()
	l, ok := t.links[id]
	// A link still dialing did not lose anything; the event belongs to an
	// abandoned dial being torn down.
	if ok && !l.connected() {
		ok = false
	}
	if ok {
		delete(t.links, id)
	}
	t.mu.Unlock()
	if ok && l.markClosed() {
		t.logger.WithField("device", id).Warn("BLE device disconnected unexpectedly")
		t.post(device.DisconnectedEvent{Device: id, Err: fmt.Errorf("%w: link lost", device.ErrNotConnected)})
		l.cancel()
	}
}

// Connect implements device.Transport.
func (t *Transport) Connect(id string, opts device.ConnectOptions) error {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return device.ErrRadioUnavailable
	}
	addr, ok := t.seen[id]
	if !ok {
		t.postLocked(device.ConnectFailedEvent{Device: id, Err: fmt.Errorf("%w: %s", ErrNotSeen, id)})
		t.mu.Unlock()
		return nil
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

	// tinygo cannot abort a blocking dial, so the superseded link is only
	// marked closed and tears the connection down if the dial still succeeds.
	if ok {
		t.logger.WithField("device", id).Debug("Abandoning in-flight dial for a newer connect")
		prev.close(false)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l.run(func(context.Context) { l.dial(addr, timeout) })
	return nil
}

// Disconnect implements device.Transport.
func (t *Transport) Disconnect(id string) error {
	t.mu.Lock()
	l, ok := t.links[id]
	delete(t.links, id)
	t.mu.Unlock()
	if ok {
		l.close(true)
	}
	return nil
}

func (t *Transport) dropLink(l *link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.links[l.id]; ok && cur == l {
		delete(t.links, l.id)
	}
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

// WriteCharacteristic implements device.Transport.
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

// Scan implements device.Transport. Results are reported for every advertisement;
// duplicates are left to the engine.
func (t *Transport) Scan(req device.ScanRequest) error {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return device.ErrRadioUnavailable
	}
	restart := t.scanning
	t.scanning = true
	ctx := t.ctx
	t.mu.Unlock()

	if restart {
		_ = t.adapter.StopScan()
	}

	filter := make(map[string]bluetooth.UUID)
	for _, id := range req.Services {
		if u, err := toUUID(id); err == nil {
			filter[device.NormalizeUUID(id)] = u
		}
	}

	groutine.Go(ctx, "tinygo-scan", func(ctx context.Context) {
		err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			adv, ok := toAdvertisement(result, filter)
			if !ok {
				return
			}
			t.mu.Lock()
			t.seen[adv.ID] = result.Address
			t.postLocked(device.DeviceDiscoveredEvent{Advertisement: adv})
			t.mu.Unlock()
		})
		if err != nil && ctx.Err() == nil {
			t.logger.WithField("error", err).Error("Scan failed")
			t.post(device.ErrorEvent{Err: device.WrapTransport("scan", err)})
		}
	})
	return nil
}

// StopScan implements device.Transport.
func (t *Transport) StopScan() error {
	t.mu.Lock()
	scanning := t.scanning
	t.scanning = false
	t.mu.Unlock()
	if !scanning {
		return nil
	}
	return t.adapter.StopScan()
}

// toAdvertisement reports false when a service filter is set and the result
// advertises none of its services.
func toAdvertisement(result bluetooth.ScanResult, filter map[string]bluetooth.UUID) (device.Advertisement, bool) {
	adv := device.Advertisement{
		ID:          result.Address.String(),
		Name:        result.LocalName(),
		RSSI:        int(result.RSSI),
		Connectable: true,
	}
	for id, u := range filter {
		if result.HasServiceUUID(u) {
			adv.Services = append(adv.Services, id)
		}
	}
	if len(filter) > 0 && len(adv.Services) == 0 {
		return adv, false
	}
	if md := result.ManufacturerData(); len(md) > 0 {
		adv.Manufacturer = binary.LittleEndian.AppendUint16(nil, md[0].CompanyID)
		adv.Manufacturer = append(adv.Manufacturer, md[0].Data...)
	}
	return adv, true
}
