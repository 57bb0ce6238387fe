// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer. Producers never block: when the
// buffer is full the oldest element is discarded. Consumers read from C().
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	rc.Close()
//	for v := range rc.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
//
// Send after Close is a no-op, so producers may race with a consumer that
// unsubscribes.
type RingChannel[T any] struct {
	mu     sync.Mutex // serializes producers and Close
	ch     chan T
	closed bool

	written     atomic.Int64
	overwritten atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// Reports whether an element was discarded.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		// A consumer may drain concurrently, so dropping can find the buffer empty.
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the receive side. Safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// Metrics is a snapshot of producer counters.
type Metrics struct {
	Written     int64
	Overwritten int64
}

// GetMetrics returns a snapshot of the counters.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Written:     rc.written.Load(),
		Overwritten: rc.overwritten.Load(),
	}
}
