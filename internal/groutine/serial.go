package groutine

import (
	"context"
	"sync"
)

// Serial runs submitted functions one at a time, in submission order, on a single
// named goroutine. Submit never blocks: the queue is unbounded.
//
// A Serial is started by NewSerial and stopped by Close, which waits until the
// functions already queued have run.
type Serial struct {
	name string

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewSerial starts the executor goroutine.
func NewSerial(ctx context.Context, name string) *Serial {
	s := &Serial{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	Go(ctx, name, s.run)
	return s
}

// Name returns the goroutine label.
func (s *Serial) Name() string { return s.name }

// Submit queues fn. It reports false if the executor is closed, in which case fn
// is dropped.
func (s *Serial) Submit(fn func()) bool {
	if fn == nil {
		return true
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting work, drains the queue and waits for the goroutine to exit.
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}

// Pending returns the number of queued functions not yet started.
func (s *Serial) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Serial) run(ctx context.Context) {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
		}
	}
}
