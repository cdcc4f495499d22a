package weft

import (
	"fmt"

	"github.com/danmuck/weft/internal/barrier"
	"github.com/danmuck/weft/internal/event"
	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/observability"
)

func (rt *Runtime) node(id ids.ID) (*Node, error) {
	owner := id.Owner()
	if int(owner) >= len(rt.nodes) {
		return nil, fmt.Errorf("%w: %s names unknown node %d", ids.ErrKindMismatch, id, owner)
	}
	return rt.nodes[owner], nil
}

func (rt *Runtime) genEventImpl(id ids.ID) (*event.GenEventImpl, error) {
	if _, err := id.AsEvent(); err != nil {
		return nil, err
	}
	n, err := rt.node(id)
	if err != nil {
		return nil, err
	}
	return n.Events.Lookup(id.Index())
}

func (rt *Runtime) barrierImpl(id ids.ID) (*barrier.BarrierImpl, error) {
	if _, err := id.AsBarrier(); err != nil {
		return nil, err
	}
	n, err := rt.node(id)
	if err != nil {
		return nil, err
	}
	return n.Barriers.Lookup(id.Index())
}

// NewEvent allocates a fresh untriggered event owned by this node.
func (rt *Runtime) NewEvent() (ids.Event, error) {
	_, slot, err := rt.eventFree.Alloc()
	if err != nil {
		return ids.NoEvent, err
	}
	return slot.Fresh(), nil
}

// TriggerEvent fires an event generation. Triggers are owner-side: task
// completion events always belong to the node that ran the task.
func (rt *Runtime) TriggerEvent(e ids.Event, poisoned bool) error {
	if !e.Exists() {
		return nil
	}
	impl, err := rt.genEventImpl(e.ID)
	if err != nil {
		return err
	}
	if e.ID.Owner() != rt.self {
		return fmt.Errorf("%w: trigger of %s", ErrNotLocal, e.ID)
	}
	impl.Trigger(e.Gen, poisoned)
	observability.RecordEventTrigger(uint32(rt.self))
	return nil
}

// SubscribeEvent registers a waiter on any waitable handle: a plain event
// or a barrier phase observed as one.
func (rt *Runtime) SubscribeEvent(e ids.Event, w event.Waiter) error {
	if !e.Exists() {
		w.EventTriggered(e, false)
		return nil
	}
	switch e.ID.Kind() {
	case ids.KindEvent:
		impl, err := rt.genEventImpl(e.ID)
		if err != nil {
			return err
		}
		impl.Subscribe(e.Gen, w)
		return nil
	case ids.KindBarrier:
		impl, err := rt.barrierImpl(e.ID)
		if err != nil {
			return err
		}
		impl.SubscribeGen(e.Gen, w)
		return nil
	default:
		return fmt.Errorf("%w: %s is not waitable", ids.ErrKindMismatch, e.ID)
	}
}

// HasTriggered reports the trigger state of a waitable handle without
// blocking. NoEvent is always triggered.
func (rt *Runtime) HasTriggered(e ids.Event) (triggered, poisoned bool, err error) {
	if !e.Exists() {
		return true, false, nil
	}
	switch e.ID.Kind() {
	case ids.KindEvent:
		impl, err := rt.genEventImpl(e.ID)
		if err != nil {
			return false, false, err
		}
		triggered, poisoned = impl.HasTriggered(e.Gen)
		return triggered, poisoned, nil
	case ids.KindBarrier:
		impl, err := rt.barrierImpl(e.ID)
		if err != nil {
			return false, false, err
		}
		triggered, poisoned = impl.HasTriggered(e.Gen)
		return triggered, poisoned, nil
	default:
		return false, false, fmt.Errorf("%w: %s is not waitable", ids.ErrKindMismatch, e.ID)
	}
}

// WaitEvent parks the calling goroutine until the handle triggers. The
// poison flag of the triggering generation is returned, not raised.
func (rt *Runtime) WaitEvent(e ids.Event) (poisoned bool, err error) {
	if !e.Exists() {
		return false, nil
	}
	w := event.NewChanWaiter()
	if err := rt.SubscribeEvent(e, w); err != nil {
		return false, err
	}
	return <-w.C, nil
}

// MergeEvents returns an event that triggers once every input has. The
// empty set merges to NoEvent, which counts as already triggered. Poison
// on any input poisons the merge.
func (rt *Runtime) MergeEvents(events []ids.Event) (ids.Event, error) {
	var inputs []ids.Event
	for _, e := range events {
		if e.Exists() {
			inputs = append(inputs, e)
		}
	}
	if len(inputs) == 0 {
		return ids.NoEvent, nil
	}

	merged, err := rt.NewEvent()
	if err != nil {
		return ids.NoEvent, err
	}
	mw := event.NewMergeWaiter(len(inputs), func(poisoned bool) {
		if err := rt.TriggerEvent(merged, poisoned); err != nil {
			rt.logger.Error().Err(err).Msg("merge trigger failed")
		}
	})
	for _, in := range inputs {
		if err := rt.SubscribeEvent(in, mw); err != nil {
			return ids.NoEvent, err
		}
	}
	return merged, nil
}
