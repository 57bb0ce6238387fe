package central

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
)

// PowerState implements session.Central.
func (c *Coordinator) PowerState() device.PowerState {
	if c.opts.Stub {
		return device.PowerOn
	}
	c.powerMu.RLock()
	defer c.powerMu.RUnlock()
	return c.power
}

func (c *Coordinator) setPower(state device.PowerState) {
	c.powerMu.Lock()
	prev := c.power
	c.power = state
	if prev != state {
		close(c.powerChanged)
		c.powerChanged = make(chan struct{})
	}
	c.powerMu.Unlock()

	if prev == state {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"from": prev.String(),
		"to":   state.String(),
	}).Info("Radio power state changed")

	if !state.Usable() {
		c.interruptScan()
	}
}

// CanUse reports whether the radio is usable. While the power state is still
// unknown it waits up to one second, or until ctx is done, for the first report.
func (c *Coordinator) CanUse(ctx context.Context) bool {
	if c.opts.Stub {
		return true
	}

	c.powerMu.RLock()
	state, changed := c.power, c.powerChanged
	c.powerMu.RUnlock()
	if state != device.PowerUnknown {
		return state.Usable()
	}

	ctx, cancel := context.WithTimeout(ctx, powerWait)
	defer cancel()
	select {
	case <-changed:
		return c.PowerState().Usable()
	case <-ctx.Done():
		c.logger.Debug("No radio power report yet, treating radio as unavailable")
		return false
	}
}
