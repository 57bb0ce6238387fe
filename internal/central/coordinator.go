// Package central is the process-wide coordinator: it owns the transport, admits
// GATT operations one at a time across every peripheral, runs scans, tracks the
// radio power state and publishes the global event stream.
package central

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/groutine"
	"github.com/srg/gattkit/internal/session"
)

// powerWait bounds how long CanUse waits for the first power state report.
const powerWait = time.Second

// Options configures a Coordinator.
type Options struct {
	Timeout        device.TimeoutPolicy
	ConnectTimeout time.Duration
	ScanTimeout    time.Duration
	EventHistory   uint32

	// SubscriberDepth is the default buffer of an event stream subscription.
	SubscriberDepth int
	// Stub marks a coordinator driving a simulated transport: the radio always counts as usable.
	Stub bool
}

type queued struct {
	action device.Action
	run    func()
}

// Coordinator serializes GATT operations over one transport.
type Coordinator struct {
	transport device.Transport
	opts      Options
	logger    *logrus.Logger

	sessions  *hashmap.Map[string, *session.Session]
	events    *EventStream
	callbacks *groutine.Serial

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	queue      []queued
	inFlight   bool
	current    device.Action
	started    bool
	wake       chan struct{}
	dispatched chan struct{}

	powerMu      sync.RWMutex
	power        device.PowerState
	powerChanged chan struct{}

	scanMu sync.Mutex
	scan   *scanRun
	scans  uint64
}

// New creates a coordinator over transport. Call Init before use.
func New(transport device.Transport, opts Options, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = session.DefaultConnectTimeout
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	return &Coordinator{
		transport:    transport,
		opts:         opts,
		logger:       logger,
		sessions:     hashmap.New[string, *session.Session](),
		events:       newEventStream(opts.EventHistory, opts.SubscriberDepth, logger),
		wake:         make(chan struct{}, 1),
		dispatched:   make(chan struct{}),
		powerChanged: make(chan struct{}),
	}
}

// Init starts the dispatcher, the callback goroutine and the transport.
func (c *Coordinator) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already initialized")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	// Only Shutdown ends the callback goroutine: the failures of queued work are
	// delivered after the dispatcher context is gone.
	c.callbacks = groutine.NewSerial(context.WithoutCancel(c.ctx), "gattkit-callbacks")
	c.mu.Unlock()

	groutine.Go(c.ctx, "gattkit-dispatcher", c.dispatch)

	if err := c.transport.Start(c.ctx, c); err != nil {
		c.cancel()
		<-c.dispatched
		c.callbacks.Close()
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return device.WrapTransport("start", device.NormalizeError(err))
	}

	c.logger.WithFields(logrus.Fields{
		"timeout": c.opts.Timeout.String(),
		"stub":    c.opts.Stub,
	}).Info("Coordinator started")
	return nil
}

// Shutdown disconnects every session, stops the transport and waits for queued
// work and callbacks to drain.
func (c *Coordinator) Shutdown() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.StopScan()
	c.sessions.Range(func(id string, s *session.Session) bool {
		if s.IsConnected() {
			_ = s.Disconnect(true)
		}
		return true
	})

	err := c.transport.Stop()

	c.cancel()
	<-c.dispatched
	c.failQueued()
	c.callbacks.Close()
	c.events.close()

	c.mu.Lock()
	c.started = false
	c.mu.Unlock()

	c.logger.Info("Coordinator stopped")
	return device.WrapTransport("stop", err)
}

// Request queues action behind every earlier one. run is invoked on the dispatcher
// goroutine when the action is admitted; it must eventually lead to DoneExecute.
func (c *Coordinator) Request(action device.Action, run func()) {
	c.mu.Lock()
	c.queue = append(c.queue, queued{action: action, run: run})
	n := len(c.queue)
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"op":        action.String(),
		"queue_len": n,
	}).Debug("Action queued")
	c.signal()
}

// DoneExecute releases the in-flight gate so the next queued action can run.
func (c *Coordinator) DoneExecute() {
	c.mu.Lock()
	if !c.inFlight {
		c.mu.Unlock()
		c.logger.Warn("DoneExecute called with nothing in flight")
		return
	}
	c.inFlight = false
	done := c.current
	c.current = device.Action{}
	c.mu.Unlock()

	c.logger.WithField("op", done.String()).Debug("Action released")
	c.signal()
}

// QueueLen returns the number of admitted-but-waiting actions.
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Busy reports whether an action is in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) dispatch(ctx context.Context) {
	defer close(c.dispatched)
	for {
		c.mu.Lock()
		if !c.inFlight && len(c.queue) > 0 {
			next := c.queue[0]
			c.queue[0] = queued{}
			c.queue = c.queue[1:]
			c.inFlight = true
			c.current = next.action
			c.mu.Unlock()

			c.logger.WithField("op", next.action.String()).Debug("Action admitted")
			next.run()
			continue
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-ctx.Done():
			return
		}
	}
}

// failQueued runs whatever is still queued after the dispatcher stopped. Every
// session is disconnected by then, so each action fails without touching the radio.
func (c *Coordinator) failQueued() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.inFlight = false
			c.mu.Unlock()
			return
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.inFlight = true
		c.mu.Unlock()
		next.run()
	}
}

// TimeoutPolicy implements session.Central.
func (c *Coordinator) TimeoutPolicy() device.TimeoutPolicy { return c.opts.Timeout }

// Deliver implements session.Central.
func (c *Coordinator) Deliver(fn func()) {
	if !c.callbacks.Submit(fn) {
		c.logger.Debug("Dropping callback after shutdown")
	}
}

// ReportError implements session.Central.
func (c *Coordinator) ReportError(deviceID string, err error) {
	if err == nil {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"device": deviceID,
		"error":  err,
	}).Debug("Operation failed")
	c.events.publish(device.ErrorEvent{Device: deviceID, Err: err})
}

// Events returns the global event stream.
func (c *Coordinator) Events() *EventStream { return c.events }

// Session returns the session of peripheral id, creating it on first use.
func (c *Coordinator) Session(id string) *session.Session {
	if s, ok := c.sessions.Get(id); ok {
		return s
	}
	s, _ := c.sessions.GetOrInsert(id, session.New(id, c.transport, c, c.logger))
	return s
}

// Sessions returns every known session.
func (c *Coordinator) Sessions() []*session.Session {
	out := make([]*session.Session, 0, c.sessions.Len())
	c.sessions.Range(func(_ string, s *session.Session) bool {
		out = append(out, s)
		return true
	})
	return out
}

// Release disconnects the session of peripheral id and forgets it.
func (c *Coordinator) Release(id string) {
	s, ok := c.sessions.Get(id)
	if !ok {
		return
	}
	if s.IsConnected() {
		_ = s.Disconnect(true)
	}
	c.sessions.Del(id)
}

// Connect opens a link to peripheral id with the configured connect timeout.
func (c *Coordinator) Connect(id string, onComplete func(*session.Session, error)) error {
	s := c.Session(id)
	return s.Connect(c.opts.ConnectTimeout, device.ConnectOptions{}, func(err error) {
		if onComplete != nil {
			onComplete(s, err)
		}
	})
}

// HandleEvent implements device.EventSink. Every event is published, then routed
// to the scan or to the session it names.
func (c *Coordinator) HandleEvent(ev device.Event) {
	c.events.publish(ev)

	switch e := ev.(type) {
	case device.PowerStateEvent:
		c.setPower(e.State)
	case device.DeviceDiscoveredEvent:
		c.onAdvertisement(e.Advertisement)
	default:
		id := ev.DeviceID()
		s, ok := c.sessions.Get(id)
		if !ok {
			c.logger.WithFields(logrus.Fields{
				"device": id,
				"event":  ev.EventName(),
			}).Debug("Event for unknown peripheral")
			return
		}
		s.HandleEvent(ev)
	}
}
