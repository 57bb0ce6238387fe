package session

import (
	"time"

	"github.com/srg/gattkit/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// opStage is the lifecycle of the one action a session has in flight.
type opStage int

const (
	stageIdle opStage = iota
	stageAwaitingDiscovery
	stageAwaitingValue
	stageDone
)

func (s opStage) String() string {
	switch s {
	case stageAwaitingDiscovery:
		return "awaiting-discovery"
	case stageAwaitingValue:
		return "awaiting-value"
	case stageDone:
		return "done"
	default:
		return "idle"
	}
}

type discoveryTarget int

const (
	discoverNone discoveryTarget = iota
	discoverService
	discoverCharacteristic
)

// operation is an admitted action. Only the session dispatcher mutates it, under the session lock.
type operation struct {
	ticket      uint64
	action      device.Action
	stage       opStage
	discovering discoveryTarget
}

// awaitsValueUpdate reports whether a value-updated event on the correlation key completes the operation.
func (op *operation) awaitsValueUpdate() bool {
	switch op.action.Kind {
	case device.ActionRead:
		return true
	case device.ActionWrite:
		return !op.action.ResponseKey.IsNone()
	}
	return false
}

type connectAttempt struct {
	seq        uint64
	timeout    time.Duration
	timer      *time.Timer
	onComplete func(error)
}

// state is every piece of mutable session data. It is only touched with Session.mu held,
// and each transition happens inside one dispatcher call.
type state struct {
	phase    device.Phase
	attached bool

	connect *connectAttempt
	op      *operation

	subscriptions map[device.RequestKey]device.ResultHandler
	outstanding   *orderedmap.OrderedMap[uint64, device.RequestKey]

	deferredDisconnect bool

	cache   discoveryCache
	timeout timeoutSupervisor

	nextTicket  uint64
	nextConnect uint64

	// link counts teardowns; requests queued on an earlier link never execute.
	link uint64
}

func newState() state {
	return state{
		subscriptions: make(map[device.RequestKey]device.ResultHandler),
		outstanding:   orderedmap.New[uint64, device.RequestKey](),
		cache:         newDiscoveryCache(),
	}
}

// track records an issued request and returns its ticket.
func (st *state) track(key device.RequestKey) uint64 {
	st.nextTicket++
	st.outstanding.Set(st.nextTicket, key)
	return st.nextTicket
}

func (st *state) untrack(ticket uint64) {
	st.outstanding.Delete(ticket)
}

func (st *state) resetOutstanding() {
	st.outstanding = orderedmap.New[uint64, device.RequestKey]()
}

func (st *state) outstandingKeys() []device.RequestKey {
	keys := make([]device.RequestKey, 0, st.outstanding.Len())
	for pair := st.outstanding.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Value)
	}
	return keys
}

func (st *state) pendingReadOrWrite() device.RequestKey {
	if st.op == nil || st.op.action.Kind == device.ActionNotify || st.op.stage == stageDone {
		return device.NoneKey
	}
	return st.op.action.CorrelationKey()
}

func (st *state) pendingNotifyAck() device.RequestKey {
	if st.op == nil || st.op.action.Kind != device.ActionNotify || st.op.stage == stageDone {
		return device.NoneKey
	}
	return st.op.action.Key
}

func (st *state) pendingDiscovery(target discoveryTarget) device.RequestKey {
	if st.op == nil || st.op.stage != stageAwaitingDiscovery || st.op.discovering != target {
		return device.NoneKey
	}
	return st.op.action.Key
}

// Pending is a read-only view of a session's correlation state.
type Pending struct {
	Phase                   device.Phase
	ReadOrWrite             device.RequestKey
	NotifyAck               device.RequestKey
	ServiceDiscovery        device.RequestKey
	CharacteristicDiscovery device.RequestKey
	Subscriptions           []device.RequestKey
	Outstanding             []device.RequestKey
	DeferredDisconnect      bool
	ConnectPending          bool
}

// Idle reports whether nothing is in flight or outstanding.
func (p Pending) Idle() bool {
	return p.ReadOrWrite.IsNone() && p.NotifyAck.IsNone() && len(p.Outstanding) == 0
}

func (st *state) snapshot() Pending {
	subs := make([]device.RequestKey, 0, len(st.subscriptions))
	for k := range st.subscriptions {
		subs = append(subs, k)
	}
	return Pending{
		Phase:                   st.phase,
		ReadOrWrite:             st.pendingReadOrWrite(),
		NotifyAck:               st.pendingNotifyAck(),
		ServiceDiscovery:        st.pendingDiscovery(discoverService),
		CharacteristicDiscovery: st.pendingDiscovery(discoverCharacteristic),
		Subscriptions:           subs,
		Outstanding:             st.outstandingKeys(),
		DeferredDisconnect:      st.deferredDisconnect,
		ConnectPending:          st.connect != nil,
	}
}
