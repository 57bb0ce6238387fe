package session

import (
	"time"

	"github.com/srg/gattkit/internal/device"
)

// timeoutSupervisor owns the single operation timer of a session.
type timeoutSupervisor struct {
	timer  *time.Timer
	ticket uint64
}

func (t *timeoutSupervisor) arm(d time.Duration, ticket uint64, fire func()) {
	t.cancel()
	t.ticket = ticket
	t.timer = time.AfterFunc(d, fire)
}

func (t *timeoutSupervisor) cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.ticket = 0
}

func (t *timeoutSupervisor) armed() bool { return t.timer != nil }

// classify picks the timeout cause from the stage the operation is stuck in.
// Discovery takes priority over the value exchange.
func classify(op *operation) device.TimeoutCause {
	if op.stage == stageAwaitingDiscovery {
		switch op.discovering {
		case discoverService:
			return device.TimeoutFindService
		case discoverCharacteristic:
			return device.TimeoutFindCharacteristic
		}
	}
	if op.action.Kind == device.ActionNotify {
		return device.TimeoutNotifySet
	}
	return device.TimeoutOperation
}
