package ids

// Event is the user-visible handle for a generational trigger. The zero
// value is NoEvent, which is considered already triggered everywhere.
type Event struct {
	ID  ID
	Gen uint32
}

// NoEvent is the sentinel for "no precondition / already triggered".
var NoEvent = Event{}

func (e Event) Exists() bool { return !e.ID.IsNil() }

// Barrier is the user-visible handle for one phase of a generational
// collective. Two handles with identical {ID, Gen} name the same logical
// collective. CreatorGen is the slot-reuse tag: a handle minted before the
// underlying slot was destroyed and reallocated no longer matches the
// slot's tag and is rejected as stale.
type Barrier struct {
	ID               ID
	Gen              uint32
	CreatorGen       uint32
	ExpectedArrivals int64
	BaseArrivalCount int64
}

var NoBarrier = Barrier{}

func (b Barrier) Exists() bool { return !b.ID.IsNil() }

// Advance returns the handle for the next phase. Pure client-side: the
// owner allocates nothing until the new generation sees traffic.
func (b Barrier) Advance() Barrier {
	b.Gen++
	return b
}

// AsEvent views the barrier's current phase as a waitable event.
func (b Barrier) AsEvent() Event {
	return Event{ID: b.ID, Gen: b.Gen}
}
