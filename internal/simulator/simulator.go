// Package simulator provides an in-memory device.Transport. Peripherals are
// described by profiles or built up by registering read, write and notify stubs;
// every outcome is delivered asynchronously and in order through the event sink,
// exactly like a radio driver would.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/groutine"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrStubMissing is reported when a request reaches a characteristic with no stub
// for that operation.
var ErrStubMissing = errors.New("simulator: no stub registered")

// ErrUnknownPeripheral is reported for requests naming a peripheral the simulator does not have.
var ErrUnknownPeripheral = errors.New("simulator: unknown peripheral")

// Options configures a Simulator.
type Options struct {
	// Delay is applied before every delivered event.
	Delay time.Duration
	// InitialPower is announced on Start. The zero value announces PowerOn.
	InitialPower device.PowerState
}

// Call records one transport request, in issue order.
type Call struct {
	Op     string
	Device string
	Key    device.RequestKey
}

// Simulator is a device.Transport backed by simulated peripherals.
type Simulator struct {
	logger *logrus.Logger
	opts   Options

	mu          sync.Mutex
	sink        device.EventSink
	events      *groutine.Serial
	power       device.PowerState
	peripherals *orderedmap.OrderedMap[string, *peripheral]
	scanning    bool
	scanFilter  []string

	calls       []Call
	inFlight    int
	maxInFlight int

	pending []scheduled
}

type scheduled struct {
	due     time.Time
	deliver func()
}

// New creates an empty simulator.
func New(logger *logrus.Logger, opts Options) *Simulator {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.InitialPower == device.PowerUnknown {
		opts.InitialPower = device.PowerOn
	}
	return &Simulator{
		logger:      logger,
		opts:        opts,
		power:       opts.InitialPower,
		peripherals: orderedmap.New[string, *peripheral](),
	}
}

// Start implements device.Transport. The current power state is announced right away.
func (s *Simulator) Start(ctx context.Context, sink device.EventSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events != nil {
		return errors.New("simulator: already started")
	}
	s.sink = sink
	s.events = groutine.NewSerial(ctx, "simulator-events")
	s.postLocked(0, device.PowerStateEvent{State: s.power}, false)
	s.logger.WithField("peripherals", s.peripherals.Len()).Debug("Simulator started")
	return nil
}

// Stop implements device.Transport. Events already queued are still delivered.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	events := s.events
	s.events = nil
	s.scanning = false
	s.mu.Unlock()

	if events != nil {
		events.Close()
	}
	return nil
}

// AddPeripheral registers a peripheral from profile. Its characteristics get
// default stubs: reads return the stored value, writes replace it and notification
// changes are accepted. It returns the peripheral ID.
func (s *Simulator) AddPeripheral(profile PeripheralProfile) (string, error) {
	p := newPeripheral(profile.ID)
	p.name = profile.Name
	if profile.RSSI != 0 {
		p.rssi = profile.RSSI
	}
	p.unreachable = profile.Unreachable
	p.connectWait.delay = profile.ConnectDelay

	for _, svc := range profile.Services {
		ids, err := device.ValidateUUID(svc.UUID)
		if err != nil {
			return "", fmt.Errorf("peripheral %s: service: %w", p.id, err)
		}
		serviceID := ids[0]
		p.service(serviceID, true)
		for _, ch := range svc.Characteristics {
			props, err := parseProfileProperties(ch.Properties)
			if err != nil {
				return "", fmt.Errorf("peripheral %s: %w", p.id, err)
			}
			if _, err := device.ValidateUUID(ch.UUID); err != nil {
				return "", fmt.Errorf("peripheral %s: characteristic: %w", p.id, err)
			}
			c := p.characteristic(device.NewRequestKey(serviceID, ch.UUID), props, true)
			c.value = append([]byte(nil), ch.Value...)
			s.installDefaults(c)
		}
	}

	s.mu.Lock()
	s.peripherals.Set(p.id, p)
	s.mu.Unlock()
	return p.id, nil
}

func (s *Simulator) installDefaults(c *characteristic) {
	c.read = func(device.RequestKey) ([]byte, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return append([]byte(nil), c.value...), nil
	}
	c.write = func(_ device.RequestKey, payload []byte, _ device.WriteMode) ([]byte, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		c.value = append([]byte(nil), payload...)
		return nil, nil
	}
	c.notify = AcceptNotify()
}

// RegisterRead installs a read stub on key of peripheral id, creating the
// peripheral, service and characteristic as needed. props are added to the
// characteristic's properties.
func (s *Simulator) RegisterRead(id string, key device.RequestKey, props device.Property, stub ReadStub, opts ...StubOption) {
	s.register(id, key, props, func(c *characteristic) {
		c.read = stub
		c.readCfg = buildStubConfig(opts)
	})
}

// RegisterWrite installs a write stub on key of peripheral id.
func (s *Simulator) RegisterWrite(id string, key device.RequestKey, props device.Property, stub WriteStub, opts ...StubOption) {
	s.register(id, key, props, func(c *characteristic) {
		c.write = stub
		c.writeCfg = buildStubConfig(opts)
	})
}

// RegisterNotify installs a notification state stub on key of peripheral id.
func (s *Simulator) RegisterNotify(id string, key device.RequestKey, props device.Property, stub NotifyStub, opts ...StubOption) {
	s.register(id, key, props, func(c *characteristic) {
		c.notify = stub
		c.notifyCfg = buildStubConfig(opts)
	})
}

func (s *Simulator) register(id string, key device.RequestKey, props device.Property, set func(*characteristic)) {
	key = key.Normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peripherals.Get(id)
	if !ok {
		p = newPeripheral(id)
		s.peripherals.Set(p.id, p)
	}
	set(p.characteristic(key, props, true))
}

func buildStubConfig(opts []StubOption) stubConfig {
	var cfg stubConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// SetName sets the advertised name of peripheral id.
func (s *Simulator) SetName(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peripherals.Get(id); ok {
		p.name = name
	}
}

// SetValue replaces the stored value of a profile characteristic.
func (s *Simulator) SetValue(id string, key device.RequestKey, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupLocked(id, key.Normalized())
	if err != nil {
		return err
	}
	c.value = append([]byte(nil), value...)
	return nil
}

// Value returns the stored value of a profile characteristic.
func (s *Simulator) Value(id string, key device.RequestKey) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupLocked(id, key.Normalized())
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), c.value...), nil
}

// EmitValue delivers a value update for key whether or not notifications are
// enabled, the way a peripheral answers on a response characteristic.
func (s *Simulator) EmitValue(id string, key device.RequestKey, value []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postLocked(0, device.ValueUpdatedEvent{Device: id, Key: key.Normalized(), Value: value, Err: err}, false)
}

// Notify delivers a notification for key. It fails if the subscriber has not
// enabled notifications.
func (s *Simulator) Notify(id string, key device.RequestKey, value []byte) error {
	key = key.Normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupLocked(id, key)
	if err != nil {
		return err
	}
	if !c.subscribed {
		return fmt.Errorf("simulator: notifications not enabled for %s", key)
	}
	s.postLocked(0, device.ValueUpdatedEvent{Device: id, Key: key, Value: value}, false)
	return nil
}

// DropConnection simulates a link loss with cause.
func (s *Simulator) DropConnection(id string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peripherals.Get(id)
	if !ok || !p.connected {
		return
	}
	p.connected = false
	p.unsubscribeAll()
	s.postLocked(0, device.DisconnectedEvent{Device: id, Err: cause}, false)
}

// SetPower changes the radio power state. Leaving PowerOn drops every link.
func (s *Simulator) SetPower(state device.PowerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.power == state {
		return
	}
	s.power = state
	s.postLocked(0, device.PowerStateEvent{State: state}, false)
	if state.Usable() {
		return
	}
	s.scanning = false
	for pair := s.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		p := pair.Value
		if p.connected {
			p.connected = false
			p.unsubscribeAll()
			s.postLocked(0, device.DisconnectedEvent{Device: p.id, Err: device.ErrRadioUnavailable}, false)
		}
	}
}

// IsConnected reports the simulated link state of peripheral id.
func (s *Simulator) IsConnected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peripherals.Get(id)
	return ok && p.connected
}

// IsSubscribed reports whether notifications are enabled for key.
func (s *Simulator) IsSubscribed(id string, key device.RequestKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupLocked(id, key.Normalized())
	return err == nil && c.subscribed
}

// Calls returns the transport requests issued so far.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CountCalls returns how many requests of op were issued.
func (s *Simulator) CountCalls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// MaxInFlight returns the largest number of GATT requests that were ever awaiting
// their response at the same time.
func (s *Simulator) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *Simulator) lookupLocked(id string, key device.RequestKey) (*characteristic, error) {
	p, ok := s.peripherals.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
	}
	c := p.characteristic(key, 0, false)
	if c == nil {
		return nil, device.CharacteristicNotFound(key)
	}
	return c, nil
}

func (s *Simulator) recordLocked(op, id string, key device.RequestKey) {
	s.calls = append(s.calls, Call{Op: op, Device: id, Key: key})
}

// beginLocked marks a GATT request as awaiting its response.
func (s *Simulator) beginLocked() {
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
}

// postLocked schedules ev for delivery after the simulator delay plus extra. When
// completes is set, ev answers a request counted by beginLocked.
func (s *Simulator) postLocked(extra time.Duration, ev device.Event, completes bool) {
	sink := s.sink
	if s.events == nil || sink == nil {
		if completes {
			s.inFlight--
		}
		return
	}

	deliver := func() {
		if completes {
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
		}
		sink.HandleEvent(ev)
	}

	s.scheduleLocked(s.opts.Delay+extra, deliver)
}

// scheduleLocked queues deliver to run once delay has passed. Deliveries leave in
// due order, and those due at the same time leave in the order they were posted.
func (s *Simulator) scheduleLocked(delay time.Duration, deliver func()) {
	due := time.Now().Add(delay)
	i := sort.Search(len(s.pending), func(i int) bool { return s.pending[i].due.After(due) })
	s.pending = slices.Insert(s.pending, i, scheduled{due: due, deliver: deliver})
	if delay <= 0 {
		s.flushLocked()
		return
	}
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.flushLocked()
	})
}

// flushLocked hands every delivery that is due to the event goroutine.
func (s *Simulator) flushLocked() {
	now := time.Now()
	n := 0
	for n < len(s.pending) && !s.pending[n].due.After(now) {
		n++
	}
	if s.events != nil {
		for _, d := range s.pending[:n] {
			s.events.Submit(d.deliver)
		}
	}
	s.pending = s.pending[n:]
}
