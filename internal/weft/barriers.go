package weft

import (
	"github.com/danmuck/weft/internal/event"
	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/observability"
	"github.com/danmuck/weft/internal/proc"
	"github.com/danmuck/weft/internal/redop"
)

// CreateBarrier allocates a barrier slot on this node and arms generation
// 1. The initial buffer seeds every generation's published result; the
// reduction operator, if any, must already be registered.
func (rt *Runtime) CreateBarrier(expected int64, redopID redop.OpID, initial []byte) (ids.Barrier, error) {
	id, slot, err := rt.barrierFree.Alloc()
	if err != nil {
		return ids.NoBarrier, err
	}
	h, err := slot.Setup(expected, redopID, initial)
	if err != nil {
		if relErr := rt.barrierFree.Release(id); relErr != nil {
			rt.logger.Error().Err(relErr).Str("barrier", id.String()).Msg("slot release failed")
		}
		return ids.NoBarrier, err
	}
	observability.BarrierCreated(uint32(rt.self))
	return h, nil
}

// Arrive contributes count arrivals to the handle's generation, optionally
// folding a reduction value. An unsatisfied precondition defers the
// arrival, not the caller; a poisoned precondition records a poison
// arrival. Remote arrivals are forwarded to the owner.
func (rt *Runtime) Arrive(h ids.Barrier, count int64, pre ids.Event, value []byte) error {
	if _, err := h.ID.AsBarrier(); err != nil {
		return err
	}

	if !pre.Exists() {
		return rt.doArrive(h, count, value, false)
	}
	return rt.SubscribeEvent(pre, event.WaiterFunc(func(_ ids.Event, poisoned bool) {
		if err := rt.doArrive(h, count, value, poisoned); err != nil {
			rt.logger.Error().Err(err).Str("barrier", h.ID.String()).Msg("deferred arrival failed")
		}
	}))
}

func (rt *Runtime) doArrive(h ids.Barrier, count int64, value []byte, poisoned bool) error {
	hasValue := len(value) > 0
	if h.ID.Owner() == rt.self {
		impl, err := rt.barrierImpl(h.ID)
		if err != nil {
			return err
		}
		if err := impl.Arrive(h, count, hasValue, value, poisoned); err != nil {
			return err
		}
		observability.RecordBarrierArrival(uint32(rt.self))
		return nil
	}
	rt.SendBarrierArrival(h.ID.Owner(), h, uint64(count), hasValue, value, poisoned)
	return nil
}

// AlterArrivalCount adjusts the expected arrivals of the handle's
// generation and every future one. Forwarded to the owner when remote.
func (rt *Runtime) AlterArrivalCount(h ids.Barrier, delta int64) error {
	if _, err := h.ID.AsBarrier(); err != nil {
		return err
	}
	if h.ID.Owner() == rt.self {
		impl, err := rt.barrierImpl(h.ID)
		if err != nil {
			return err
		}
		return impl.AlterArrivalCount(h, delta)
	}
	rt.SendBarrierAlter(h.ID.Owner(), h, delta)
	return nil
}

// GetBarrierResult copies the published value into out without blocking.
// The first miss on a non-owner node subscribes this node to the owner's
// publication.
func (rt *Runtime) GetBarrierResult(h ids.Barrier, out []byte) (ready, poisoned bool, err error) {
	impl, err := rt.barrierImpl(h.ID)
	if err != nil {
		return false, false, err
	}
	return impl.GetResult(h, out)
}

// WaitBarrier parks the calling goroutine until the handle's generation
// publishes on this node.
func (rt *Runtime) WaitBarrier(h ids.Barrier) (poisoned bool, err error) {
	impl, err := rt.barrierImpl(h.ID)
	if err != nil {
		return false, err
	}
	w := event.NewChanWaiter()
	if err := impl.SubscribeLocal(h, w); err != nil {
		return false, err
	}
	return <-w.C, nil
}

// DestroyBarrier releases the slot for reuse once drained. The owner
// performs the release; stale handles are rejected from then on.
func (rt *Runtime) DestroyBarrier(h ids.Barrier) error {
	impl, err := rt.barrierImpl(h.ID)
	if err != nil {
		return err
	}
	reclaim, err := impl.Destroy(h)
	if err != nil {
		return err
	}
	observability.BarrierDestroyed(uint32(rt.self))
	if reclaim {
		return rt.barrierFree.Release(h.ID)
	}
	return nil
}

// CreateReservation allocates an exclusive lock slot on this node.
func (rt *Runtime) CreateReservation() (ids.ID, error) {
	id, _, err := rt.rsrvFree.Alloc()
	return id, err
}

func (rt *Runtime) Reservation(id ids.ID) (*ReservationImpl, error) {
	if id.Kind() != ids.KindReservation {
		return nil, ids.ErrKindMismatch
	}
	n, err := rt.node(id)
	if err != nil {
		return nil, err
	}
	return n.Reservations.Lookup(id.Index())
}

// CreateIndexSpace allocates an index space of numElems elements.
func (rt *Runtime) CreateIndexSpace(numElems uint64) (ids.ID, error) {
	id, slot, err := rt.ispaceFree.Alloc()
	if err != nil {
		return 0, err
	}
	slot.SetExtent(numElems)
	return id, nil
}

func (rt *Runtime) IndexSpace(id ids.ID) (*IndexSpaceImpl, error) {
	if id.Kind() != ids.KindIndexSpace {
		return nil, ids.ErrKindMismatch
	}
	n, err := rt.node(id)
	if err != nil {
		return nil, err
	}
	return n.IndexSpaces.Lookup(id.Index())
}

// CreateProcessorGroup groups local processors for fan-out spawns.
func (rt *Runtime) CreateProcessorGroup(members []proc.Processor) (ids.ID, error) {
	if len(members) == 0 {
		return 0, ErrEmptyGroup
	}
	id, slot, err := rt.pgroupFree.Alloc()
	if err != nil {
		return 0, err
	}
	slot.SetMembers(members)
	return id, nil
}

func (rt *Runtime) ProcessorGroup(id ids.ID) (*ProcGroupImpl, error) {
	if id.Kind() != ids.KindProcGroup {
		return nil, ids.ErrKindMismatch
	}
	n, err := rt.node(id)
	if err != nil {
		return nil, err
	}
	return n.ProcGroups.Lookup(id.Index())
}

// SpawnGroup launches the task on every member and returns the merged
// completion event.
func (rt *Runtime) SpawnGroup(id ids.ID, task proc.TaskID, args []byte, pre ids.Event) (ids.Event, error) {
	g, err := rt.ProcessorGroup(id)
	if err != nil {
		return ids.NoEvent, err
	}
	var done []ids.Event
	for _, member := range g.Members() {
		e, err := rt.Spawn(member, task, args, pre)
		if err != nil {
			return ids.NoEvent, err
		}
		done = append(done, e)
	}
	return rt.MergeEvents(done)
}
