// Package groutine starts named goroutines and runs the serial executor that
// delivers user-visible completions in order.
package groutine

import (
	"context"
	"fmt"
	"runtime"
	"runtime/pprof"
)

// nameLabel is the pprof label carrying the goroutine name.
const nameLabel = "gattkit.goroutine"

// Go runs fn on a new goroutine labelled name, so it can be told apart in
// pprof goroutine dumps:
//
//	groutine.Go(ctx, "gattkit-dispatcher", c.dispatch)
//
// A nil parent is treated as context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels(nameLabel, name), fn)
}

// Name returns the name Go gave the goroutine that owns ctx, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := pprof.Label(ctx, nameLabel)
	return name
}

// ID returns the runtime's numeric id of the calling goroutine. Debugging and tests only.
func ID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	var id uint64
	if _, err := fmt.Sscanf(string(buf), "goroutine %d ", &id); err != nil {
		return 0
	}
	return id
}
