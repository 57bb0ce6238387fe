package groutine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerial_RunsInSubmissionOrderOnOneGoroutine(t *testing.T) {
	s := NewSerial(context.Background(), "test-callbacks")
	defer s.Close()

	const n = 100
	var (
		mu    sync.Mutex
		order []int
		gids  = map[uint64]struct{}{}
		wg    sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		require.True(t, s.Submit(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			gids[ID()] = struct{}{}
			mu.Unlock()
		}), "submit MUST be accepted while open")
	}

	waitGroupOrFail(t, &wg, 2*time.Second)

	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i], "functions MUST run in submission order")
	}
	assert.Len(t, gids, 1, "all functions MUST run on the same goroutine")
}

func TestSerial_CloseDrainsQueue(t *testing.T) {
	s := NewSerial(context.Background(), "test-drain")

	ran := 0
	block := make(chan struct{})
	s.Submit(func() { <-block })
	for i := 0; i < 10; i++ {
		s.Submit(func() { ran++ })
	}
	close(block)
	s.Close()

	assert.Equal(t, 10, ran, "queued functions MUST run before Close returns")
	assert.False(t, s.Submit(func() {}), "submit after Close MUST be rejected")
}

func TestSerial_Name(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSerial(ctx, "named")
	cancel()
	s.Close()

	assert.Equal(t, "named", s.Name())
}

func TestGo_PropagatesName(t *testing.T) {
	got := make(chan string, 1)
	Go(context.Background(), "worker-7", func(ctx context.Context) {
		got <- Name(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "worker-7", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func waitGroupOrFail(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for submitted functions")
	}
}
