package weft

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/proc"
)

var (
	ErrReservationHeld = errors.New("weft: reservation held")
	ErrEmptyGroup      = errors.New("weft: processor group has no members")
)

// MemoryImpl anchors a memory ID in the registry. Allocation policy and
// region instances live outside the core.
type MemoryImpl struct {
	me ids.ID
}

func (m *MemoryImpl) ID() ids.ID { return m.me }

// ReservationImpl is an exclusive lock slot addressed by ID.
type ReservationImpl struct {
	mu   sync.Mutex
	me   ids.ID
	held bool
}

func (r *ReservationImpl) init(me ids.ID) { r.me = me }
func (r *ReservationImpl) ID() ids.ID     { return r.me }

func (r *ReservationImpl) TryAcquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held {
		return fmt.Errorf("%w: %s", ErrReservationHeld, r.me)
	}
	r.held = true
	return nil
}

func (r *ReservationImpl) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = false
}

// IndexSpaceImpl records the extent of an index space.
type IndexSpaceImpl struct {
	mu       sync.Mutex
	me       ids.ID
	numElems uint64
}

func (s *IndexSpaceImpl) init(me ids.ID) { s.me = me }
func (s *IndexSpaceImpl) ID() ids.ID     { return s.me }

func (s *IndexSpaceImpl) SetExtent(numElems uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numElems = numElems
}

func (s *IndexSpaceImpl) Extent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numElems
}

// ProcGroupImpl is a named set of processors spawned to as a unit.
type ProcGroupImpl struct {
	mu      sync.Mutex
	me      ids.ID
	members []proc.Processor
}

func (g *ProcGroupImpl) init(me ids.ID) { g.me = me }
func (g *ProcGroupImpl) ID() ids.ID     { return g.me }

func (g *ProcGroupImpl) SetMembers(members []proc.Processor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append([]proc.Processor(nil), members...)
}

func (g *ProcGroupImpl) Members() []proc.Processor {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]proc.Processor(nil), g.members...)
}
