package central

import (
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/ringchan"
)

const (
	defaultEventHistory    = 256
	defaultSubscriberDepth = 64
)

// EventStream fans every transport event and every operation failure out to
// subscribers. Publishing never blocks: a slow subscriber loses its oldest events.
type EventStream struct {
	logger *logrus.Logger
	depth  int

	mu      sync.RWMutex
	subs    map[uint64]*ringchan.RingChannel[device.Event]
	nextSub uint64
	closed  bool

	historyMu sync.Mutex
	history   mpmc.RichOverlappedRingBuffer[device.Event]

	published   atomic.Uint64
	overwritten atomic.Uint64
}

// Subscription is one consumer of an EventStream.
type Subscription struct {
	id     uint64
	ch     *ringchan.RingChannel[device.Event]
	stream *EventStream
}

// C returns the event channel. It is closed by Close or when the stream shuts down.
func (s *Subscription) C() <-chan device.Event { return s.ch.C() }

// Close unsubscribes.
func (s *Subscription) Close() { s.stream.unsubscribe(s.id) }

func newEventStream(history uint32, depth int, logger *logrus.Logger) *EventStream {
	if history == 0 {
		history = defaultEventHistory
	}
	if depth <= 0 {
		depth = defaultSubscriberDepth
	}
	return &EventStream{
		logger:  logger,
		depth:   depth,
		subs:    make(map[uint64]*ringchan.RingChannel[device.Event]),
		history: mpmc.NewOverlappedRingBuffer[device.Event](history),
	}
}

// Subscribe registers a consumer buffering up to depth events. A non-positive
// depth selects the stream's configured default.
func (es *EventStream) Subscribe(depth int) *Subscription {
	if depth <= 0 {
		depth = es.depth
	}
	ch := ringchan.New[device.Event](depth)

	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		ch.Close()
		return &Subscription{ch: ch, stream: es}
	}
	es.nextSub++
	es.subs[es.nextSub] = ch
	return &Subscription{id: es.nextSub, ch: ch, stream: es}
}

func (es *EventStream) unsubscribe(id uint64) {
	es.mu.Lock()
	ch, ok := es.subs[id]
	delete(es.subs, id)
	es.mu.Unlock()
	if ok {
		ch.Close()
	}
}

func (es *EventStream) publish(ev device.Event) {
	es.published.Add(1)

	es.historyMu.Lock()
	overwrites, err := es.history.EnqueueM(ev)
	es.historyMu.Unlock()
	if err != nil {
		es.logger.WithField("error", err).Warn("Failed to record event history")
	}
	es.overwritten.Add(uint64(overwrites))

	es.mu.RLock()
	defer es.mu.RUnlock()
	for _, ch := range es.subs {
		ch.Send(ev)
	}
}

// Recent returns the retained history, oldest first.
func (es *EventStream) Recent() []device.Event {
	es.historyMu.Lock()
	defer es.historyMu.Unlock()

	var out []device.Event
	for !es.history.IsEmpty() {
		ev, err := es.history.Dequeue()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	for _, ev := range out {
		_, _ = es.history.EnqueueM(ev)
	}
	return out
}

// Published returns how many events were published in total.
func (es *EventStream) Published() uint64 { return es.published.Load() }

// Overwritten returns how many history entries were dropped to make room.
func (es *EventStream) Overwritten() uint64 { return es.overwritten.Load() }

func (es *EventStream) close() {
	es.mu.Lock()
	subs := es.subs
	es.subs = make(map[uint64]*ringchan.RingChannel[device.Event])
	es.closed = true
	es.mu.Unlock()

	for _, ch := range subs {
		ch.Close()
	}
}
