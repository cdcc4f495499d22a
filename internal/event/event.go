// Package event implements generational one-shot triggers. A slot cycles
// through generations: each generation is triggered at most once, stays
// triggered forever, and waiters registered at or below the triggered
// generation fire immediately. Non-owner slots act as local proxies that
// subscribe to the owner on first local interest.
package event

import (
	"sync"

	"github.com/danmuck/weft/internal/ids"
)

// Waiter is the continuation contract for trigger observation. Callbacks
// run outside the slot lock and must not block; blocking work belongs on a
// worker, not in the trigger path.
type Waiter interface {
	EventTriggered(e ids.Event, poisoned bool)
}

// WaiterFunc adapts a closure to the Waiter contract.
type WaiterFunc func(e ids.Event, poisoned bool)

func (f WaiterFunc) EventTriggered(e ids.Event, poisoned bool) { f(e, poisoned) }

// Notifier sends the cross-node messages an event slot needs: subscription
// requests from proxies and trigger notifications from the owner.
type Notifier interface {
	SendEventSubscribe(owner ids.NodeID, e ids.Event)
	SendEventTrigger(target ids.NodeID, e ids.Event, poisoned bool)
}

type genWaiter struct {
	gen uint32
	w   Waiter
}

// GenEventImpl is one slot in a node's event table.
type GenEventImpl struct {
	mu       sync.Mutex
	me       ids.ID
	self     ids.NodeID
	notifier Notifier

	curGen  uint32
	trigGen uint32
	// poisonMax: every generation at or below it is poisoned. Poison is a
	// terminal condition for a generation, so the high-water mark suffices.
	poisonMax uint32

	waiters []genWaiter

	// owner side: subscriber node -> lowest generation it still awaits
	remoteSubs map[ids.NodeID]uint32
	// proxy side: highest generation a subscription has been sent for
	subSent uint32
}

// Init stamps the slot with its well-known ID. Called once per slot by the
// table's leaf allocator.
func (g *GenEventImpl) Init(me ids.ID, self ids.NodeID, n Notifier) {
	g.me = me
	g.self = self
	g.notifier = n
}

func (g *GenEventImpl) ID() ids.ID  { return g.me }
func (g *GenEventImpl) local() bool { return g.me.Owner() == g.self }

// Fresh hands out the next untriggered generation of this slot. Owner only.
func (g *GenEventImpl) Fresh() ids.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.curGen++
	return ids.Event{ID: g.me, Gen: g.curGen}
}

// HasTriggered reports whether gen has triggered, and whether it triggered
// poisoned. Generation 0 is always triggered clean.
func (g *GenEventImpl) HasTriggered(gen uint32) (triggered, poisoned bool) {
	if gen == 0 {
		return true, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return gen <= g.trigGen, gen <= g.poisonMax
}

// Trigger advances the triggered generation to max(current, gen). Double
// triggering a generation is idempotent; triggering below the current
// triggered generation is a no-op. On the owner, remote subscribers whose
// awaited generation is now covered get an EventTrigger notification.
func (g *GenEventImpl) Trigger(gen uint32, poisoned bool) {
	g.mu.Lock()
	if gen <= g.trigGen {
		g.mu.Unlock()
		return
	}
	g.trigGen = gen
	if gen > g.curGen {
		g.curGen = gen
	}
	if poisoned && gen > g.poisonMax {
		g.poisonMax = gen
	}
	fired, notify := g.drainLocked()
	g.mu.Unlock()

	g.dispatch(fired, notify)
}

// ApplyRemoteTrigger folds an owner-sent EventTrigger into a proxy slot.
func (g *GenEventImpl) ApplyRemoteTrigger(gen uint32, poisoned bool) {
	g.Trigger(gen, poisoned)
}

// Subscribe registers a waiter for gen. Already-triggered generations fire
// the waiter before Subscribe returns. On a proxy, the first subscriber for
// a generation sends EventSubscribe to the owner.
func (g *GenEventImpl) Subscribe(gen uint32, w Waiter) {
	g.mu.Lock()
	if gen == 0 || gen <= g.trigGen {
		poisoned := gen != 0 && gen <= g.poisonMax
		g.mu.Unlock()
		w.EventTriggered(ids.Event{ID: g.me, Gen: gen}, poisoned)
		return
	}
	g.waiters = append(g.waiters, genWaiter{gen: gen, w: w})
	needSub := !g.local() && g.subSent < gen
	if needSub {
		g.subSent = gen
	}
	g.mu.Unlock()

	if needSub && g.notifier != nil {
		g.notifier.SendEventSubscribe(g.me.Owner(), ids.Event{ID: g.me, Gen: gen})
	}
}

// AddRemoteSubscriber records a subscriber node on the owner. If the awaited
// generation has already triggered, the notification goes out immediately.
func (g *GenEventImpl) AddRemoteSubscriber(node ids.NodeID, gen uint32) {
	g.mu.Lock()
	if gen <= g.trigGen {
		trig, poisoned := g.trigGen, g.trigGen <= g.poisonMax
		g.mu.Unlock()
		if g.notifier != nil {
			g.notifier.SendEventTrigger(node, ids.Event{ID: g.me, Gen: trig}, poisoned)
		}
		return
	}
	if g.remoteSubs == nil {
		g.remoteSubs = make(map[ids.NodeID]uint32)
	}
	if cur, ok := g.remoteSubs[node]; !ok || gen < cur {
		g.remoteSubs[node] = gen
	}
	g.mu.Unlock()
}

type notifyTarget struct {
	node     ids.NodeID
	gen      uint32
	poisoned bool
}

// drainLocked collects waiters and remote subscribers satisfied by the
// current triggered generation. Caller holds mu.
func (g *GenEventImpl) drainLocked() ([]genWaiter, []notifyTarget) {
	var fired []genWaiter
	kept := g.waiters[:0]
	for _, gw := range g.waiters {
		if gw.gen <= g.trigGen {
			fired = append(fired, gw)
		} else {
			kept = append(kept, gw)
		}
	}
	g.waiters = kept

	var notify []notifyTarget
	for node, gen := range g.remoteSubs {
		if gen <= g.trigGen {
			notify = append(notify, notifyTarget{
				node:     node,
				gen:      g.trigGen,
				poisoned: g.trigGen <= g.poisonMax,
			})
			delete(g.remoteSubs, node)
		}
	}
	return fired, notify
}

func (g *GenEventImpl) dispatch(fired []genWaiter, notify []notifyTarget) {
	for _, gw := range fired {
		poisoned := gw.gen <= g.poisonMaxSnapshot()
		gw.w.EventTriggered(ids.Event{ID: g.me, Gen: gw.gen}, poisoned)
	}
	if g.notifier != nil {
		for _, n := range notify {
			g.notifier.SendEventTrigger(n.node, ids.Event{ID: g.me, Gen: n.gen}, n.poisoned)
		}
	}
}

func (g *GenEventImpl) poisonMaxSnapshot() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.poisonMax
}
