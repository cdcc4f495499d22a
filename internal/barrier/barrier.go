// Package barrier implements the reduction-capable generational collective.
// The owner slot is authoritative: it counts arrivals, folds reduction
// values, and publishes each generation's result exactly once. Non-owner
// slots are proxies that cache published results delivered by BarrierNotify
// and subscribe lazily on first local interest.
package barrier

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/weft/internal/event"
	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/redop"
)

var (
	ErrStaleHandle           = errors.New("barrier: stale handle")
	ErrArrivalCountUnderflow = errors.New("barrier: arrival count underflow")
	ErrArrivalOverflow       = errors.New("barrier: arrivals exceed expected count")
	ErrUnexpectedValue       = errors.New("barrier: reduction value on a barrier without a reduction op")
	ErrNotOwner              = errors.New("barrier: operation requires the owner slot")
)

// Sender carries the barrier's cross-node messages.
type Sender interface {
	SendBarrierArrival(owner ids.NodeID, b ids.Barrier, count uint64, hasValue bool, value []byte, poisoned bool)
	SendBarrierNotify(target ids.NodeID, b ids.Barrier, value []byte, poisoned bool)
	SendBarrierResultSubscribe(owner ids.NodeID, b ids.Barrier)
}

// genState is one generation's record.
//
// Owner lifecycle: NASCENT (absent from the map) -> OPEN (first arrival or
// subscriber) -> PUBLISHED or POISONED. Proxy slots only ever hold cached
// PUBLISHED/POISONED state plus local waiters.
type genState struct {
	expected   int64
	received   int64
	accum      []byte
	published  bool
	poisoned   bool
	result     []byte
	waiters    []event.Waiter
	subs       map[ids.NodeID]bool
	subscribed bool
}

// BarrierImpl is one slot in a node's barrier table.
type BarrierImpl struct {
	mu     sync.Mutex
	me     ids.ID
	self   ids.NodeID
	sender Sender
	redops *redop.Registry

	creatorGen   uint32
	inUse        bool
	baseExpected int64
	redopID      redop.OpID
	rd           redop.Descriptor
	hasRedop     bool
	initial      []byte

	// oldestLive: generations below it are published; it only moves forward.
	oldestLive uint32
	gens       map[uint32]*genState
}

// Init stamps the slot with its well-known ID. Called once per slot by the
// table's leaf allocator.
func (b *BarrierImpl) Init(me ids.ID, self ids.NodeID, sender Sender, redops *redop.Registry) {
	b.me = me
	b.self = self
	b.sender = sender
	b.redops = redops
}

func (b *BarrierImpl) ID() ids.ID  { return b.me }
func (b *BarrierImpl) owner() bool { return b.me.Owner() == b.self }

// Setup arms a freshly allocated (or reused) owner slot and returns the
// generation-1 handle. A zero expected count publishes generation 1
// immediately with the initial value.
func (b *BarrierImpl) Setup(expected int64, redopID redop.OpID, initial []byte) (ids.Barrier, error) {
	if !b.owner() {
		return ids.NoBarrier, fmt.Errorf("%w: %s on node %d", ErrNotOwner, b.me, b.self)
	}
	if expected < 0 {
		return ids.NoBarrier, fmt.Errorf("%w: expected %d", ErrArrivalCountUnderflow, expected)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.creatorGen++
	b.inUse = true
	b.baseExpected = expected
	b.redopID = redopID
	b.hasRedop = false
	b.initial = cloneBytes(initial)
	b.oldestLive = 1
	b.gens = make(map[uint32]*genState)

	if redopID != redop.NoOp {
		rd, err := b.redops.Get(redopID)
		if err != nil {
			return ids.NoBarrier, err
		}
		b.rd = rd
		b.hasRedop = true
	}

	handle := ids.Barrier{
		ID:               b.me,
		Gen:              1,
		CreatorGen:       b.creatorGen,
		ExpectedArrivals: expected,
	}
	if expected == 0 {
		gs := b.genLocked(1)
		b.publishLocked(1, gs)
	}
	return handle, nil
}

func (b *BarrierImpl) checkHandleLocked(h ids.Barrier) error {
	if !b.owner() {
		// proxies have no creator tag; the owner is authoritative
		return nil
	}
	if !b.inUse || h.CreatorGen != b.creatorGen {
		return fmt.Errorf("%w: %s gen-tag %d, slot at %d", ErrStaleHandle, h.ID, h.CreatorGen, b.creatorGen)
	}
	return nil
}

func (b *BarrierImpl) genLocked(gen uint32) *genState {
	if b.gens == nil {
		b.gens = make(map[uint32]*genState)
	}
	gs, ok := b.gens[gen]
	if !ok {
		gs = &genState{expected: b.baseExpected}
		if b.owner() && b.hasRedop {
			gs.accum = cloneBytes(b.rd.Identity)
		}
		b.gens[gen] = gs
	}
	return gs
}

// Arrive applies count arrivals (owner slot only), folding an optional
// reduction value into the generation's accumulator. Arrivals for future
// generations are accepted and held: arrivals are not assumed stratified
// across generations. A zero count is a no-op. Poisoned arrivals drive the
// generation to the poisoned terminal state.
func (b *BarrierImpl) Arrive(h ids.Barrier, count int64, hasValue bool, value []byte, poisoned bool) error {
	if !b.owner() {
		return fmt.Errorf("%w: arrive on proxy %s", ErrNotOwner, b.me)
	}
	if count < 0 {
		return fmt.Errorf("%w: negative count %d", ErrArrivalCountUnderflow, count)
	}

	b.mu.Lock()
	if err := b.checkHandleLocked(h); err != nil {
		b.mu.Unlock()
		return err
	}
	if hasValue && !b.hasRedop {
		b.mu.Unlock()
		return ErrUnexpectedValue
	}
	gs := b.genLocked(h.Gen)
	if gs.published {
		b.mu.Unlock()
		if count == 0 {
			return nil
		}
		return fmt.Errorf("%w: arrival after publication of gen %d", ErrArrivalOverflow, h.Gen)
	}
	if gs.received+count > gs.expected {
		got, want := gs.received+count, gs.expected
		b.mu.Unlock()
		return fmt.Errorf("%w: %d > %d for gen %d", ErrArrivalOverflow, got, want, h.Gen)
	}
	if hasValue {
		if len(value) != b.rd.RHSSize {
			b.mu.Unlock()
			return fmt.Errorf("%w: value %d bytes, want %d", redop.ErrBadOperand, len(value), b.rd.RHSSize)
		}
		b.rd.Fold(gs.accum, value)
	}
	if poisoned {
		gs.poisoned = true
	}
	gs.received += count

	var fired []event.Waiter
	var notify []notifyTarget
	if !gs.published && gs.received == gs.expected {
		fired, notify = b.publishLocked(h.Gen, gs)
	}
	b.mu.Unlock()

	b.dispatch(h.Gen, fired, notify)
	return nil
}

// publishLocked freezes the generation's result. Caller holds mu and must
// dispatch the returned waiters and notifications after unlocking.
func (b *BarrierImpl) publishLocked(gen uint32, gs *genState) ([]event.Waiter, []notifyTarget) {
	gs.published = true
	gs.result = cloneBytes(b.initial)
	if b.hasRedop && !gs.poisoned {
		b.rd.Apply(gs.result, gs.accum)
	}
	gs.accum = nil

	for b.gens[b.oldestLive] != nil && b.gens[b.oldestLive].published {
		b.oldestLive++
	}

	fired := gs.waiters
	gs.waiters = nil
	var notify []notifyTarget
	for node := range gs.subs {
		notify = append(notify, notifyTarget{node: node, value: gs.result, poisoned: gs.poisoned})
	}
	gs.subs = nil
	return fired, notify
}

type notifyTarget struct {
	node     ids.NodeID
	value    []byte
	poisoned bool
}

func (b *BarrierImpl) dispatch(gen uint32, fired []event.Waiter, notify []notifyTarget) {
	for _, w := range fired {
		w.EventTriggered(ids.Event{ID: b.me, Gen: gen}, b.genPoisoned(gen))
	}
	if b.sender != nil {
		for _, n := range notify {
			b.sender.SendBarrierNotify(n.node, ids.Barrier{ID: b.me, Gen: gen}, n.value, n.poisoned)
		}
	}
}

func (b *BarrierImpl) genPoisoned(gen uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	gs, ok := b.gens[gen]
	return ok && gs.poisoned
}

// AlterArrivalCount adjusts the expected count of the handle's generation,
// every later generation already in flight, and all future generations.
// Owner slot only; a delta of zero is a no-op.
func (b *BarrierImpl) AlterArrivalCount(h ids.Barrier, delta int64) error {
	if !b.owner() {
		return fmt.Errorf("%w: alter on proxy %s", ErrNotOwner, b.me)
	}
	if delta == 0 {
		return nil
	}

	b.mu.Lock()
	if err := b.checkHandleLocked(h); err != nil {
		b.mu.Unlock()
		return err
	}
	if b.baseExpected+delta < 0 {
		b.mu.Unlock()
		return fmt.Errorf("%w: base %d delta %d", ErrArrivalCountUnderflow, b.baseExpected, delta)
	}
	for gen, gs := range b.gens {
		if gen < h.Gen || gs.published {
			continue
		}
		if gs.expected+delta < gs.received {
			b.mu.Unlock()
			return fmt.Errorf("%w: gen %d expected %d+%d < received %d",
				ErrArrivalCountUnderflow, gen, gs.expected, delta, gs.received)
		}
	}

	b.baseExpected += delta
	type pub struct {
		gen    uint32
		fired  []event.Waiter
		notify []notifyTarget
	}
	var pubs []pub
	for gen, gs := range b.gens {
		if gen < h.Gen || gs.published {
			continue
		}
		gs.expected += delta
		if gs.received == gs.expected {
			fired, notify := b.publishLocked(gen, gs)
			pubs = append(pubs, pub{gen: gen, fired: fired, notify: notify})
		}
	}
	b.mu.Unlock()

	for _, p := range pubs {
		b.dispatch(p.gen, p.fired, p.notify)
	}
	return nil
}

// GetResult copies the published value into out without blocking. On a
// proxy, the first miss sends a result subscription to the owner so the
// value is pushed here when (or as soon as) it publishes.
func (b *BarrierImpl) GetResult(h ids.Barrier, out []byte) (ready, poisoned bool, err error) {
	b.mu.Lock()
	if err := b.checkHandleLocked(h); err != nil {
		b.mu.Unlock()
		return false, false, err
	}
	gs := b.genLocked(h.Gen)
	if gs.published {
		copy(out, gs.result)
		p := gs.poisoned
		b.mu.Unlock()
		return true, p, nil
	}
	needSub := !b.owner() && !gs.subscribed
	if needSub {
		gs.subscribed = true
	}
	b.mu.Unlock()

	if needSub && b.sender != nil {
		b.sender.SendBarrierResultSubscribe(b.me.Owner(), h)
	}
	return false, false, nil
}

// SubscribeLocal registers a publication waiter for the handle's
// generation. Published generations fire before the call returns. Proxy
// slots piggyback on the result subscription for their wake-up.
func (b *BarrierImpl) SubscribeLocal(h ids.Barrier, w event.Waiter) error {
	b.mu.Lock()
	if err := b.checkHandleLocked(h); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()
	b.SubscribeGen(h.Gen, w)
	return nil
}

// SubscribeGen is the event-view subscription: a barrier phase observed as
// a plain trigger, keyed by generation alone.
func (b *BarrierImpl) SubscribeGen(gen uint32, w event.Waiter) {
	b.mu.Lock()
	gs := b.genLocked(gen)
	if gs.published {
		p := gs.poisoned
		b.mu.Unlock()
		w.EventTriggered(ids.Event{ID: b.me, Gen: gen}, p)
		return
	}
	gs.waiters = append(gs.waiters, w)
	needSub := !b.owner() && !gs.subscribed
	if needSub {
		gs.subscribed = true
	}
	b.mu.Unlock()

	if needSub && b.sender != nil {
		b.sender.SendBarrierResultSubscribe(b.me.Owner(), ids.Barrier{ID: b.me, Gen: gen})
	}
}

// AddResultSubscriber records a remote subscriber on the owner; an
// already-published generation is answered immediately.
func (b *BarrierImpl) AddResultSubscriber(gen uint32, node ids.NodeID) {
	b.mu.Lock()
	gs := b.genLocked(gen)
	if gs.published {
		value, p := gs.result, gs.poisoned
		b.mu.Unlock()
		if b.sender != nil {
			b.sender.SendBarrierNotify(node, ids.Barrier{ID: b.me, Gen: gen}, value, p)
		}
		return
	}
	if gs.subs == nil {
		gs.subs = make(map[ids.NodeID]bool)
	}
	gs.subs[node] = true
	b.mu.Unlock()
}

// ApplyRemoteNotify installs an owner-published result into a proxy slot
// and wakes local waiters. Duplicate notifications are idempotent.
func (b *BarrierImpl) ApplyRemoteNotify(gen uint32, value []byte, poisoned bool) {
	b.mu.Lock()
	gs := b.genLocked(gen)
	if gs.published {
		b.mu.Unlock()
		return
	}
	gs.published = true
	gs.poisoned = poisoned
	gs.result = cloneBytes(value)
	fired := gs.waiters
	gs.waiters = nil
	b.mu.Unlock()

	for _, w := range fired {
		w.EventTriggered(ids.Event{ID: b.me, Gen: gen}, poisoned)
	}
}

// HasTriggered treats publication as the barrier's trigger, which is what
// lets a barrier phase stand in for an event.
func (b *BarrierImpl) HasTriggered(gen uint32) (triggered, poisoned bool) {
	if gen == 0 {
		return true, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	gs, ok := b.gens[gen]
	if !ok {
		return false, false
	}
	return gs.published, gs.poisoned
}

// Destroy marks the slot for reclamation. It reports whether the slot is
// already drained (every live generation published, nothing waiting) and
// can go back on the free list now; otherwise the owner keeps the slot
// tombstoned and every later operation on it fails stale.
func (b *BarrierImpl) Destroy(h ids.Barrier) (reclaim bool, err error) {
	if !b.owner() {
		return false, fmt.Errorf("%w: destroy on proxy %s", ErrNotOwner, b.me)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkHandleLocked(h); err != nil {
		return false, err
	}
	b.inUse = false
	reclaim = true
	for _, gs := range b.gens {
		if !gs.published || len(gs.waiters) > 0 || len(gs.subs) > 0 {
			reclaim = false
			break
		}
	}
	b.gens = nil
	b.initial = nil
	return reclaim, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
