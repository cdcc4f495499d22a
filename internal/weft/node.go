// Package weft is the runtime facade: it owns the per-node object
// registries, resolves handles to implementors, routes remote operations
// through the active-message transport, and coordinates startup and
// two-phase shutdown.
package weft

import (
	"github.com/danmuck/weft/internal/barrier"
	"github.com/danmuck/weft/internal/event"
	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/proc"
	"github.com/danmuck/weft/internal/table"
)

const (
	eventLeafBits      = 8
	barrierLeafBits    = 4
	rsrvLeafBits       = 8
	indexSpaceLeafBits = 4
	procGroupLeafBits  = 4
)

// Node is the per-peer registry: fixed memory and processor vectors plus
// one dynamic table per ID-addressed object kind. The runtime holds one
// Node per known peer; only the local node's processors have live workers
// and only the local node's tables feed the local free lists. Remote nodes'
// tables hold lazily allocated proxy slots.
type Node struct {
	Memories   []*MemoryImpl
	Processors []*proc.ProcessorImpl

	Events       *table.Table[event.GenEventImpl]
	Barriers     *table.Table[barrier.BarrierImpl]
	Reservations *table.Table[ReservationImpl]
	IndexSpaces  *table.Table[IndexSpaceImpl]
	ProcGroups   *table.Table[ProcGroupImpl]
}

func (rt *Runtime) newNode(owner ids.NodeID, workers int) *Node {
	n := &Node{
		Events: table.New(ids.KindEvent, owner, eventLeafBits, func(slot *event.GenEventImpl, me ids.ID) {
			slot.Init(me, rt.self, rt)
		}),
		Barriers: table.New(ids.KindBarrier, owner, barrierLeafBits, func(slot *barrier.BarrierImpl, me ids.ID) {
			slot.Init(me, rt.self, rt, rt.redops)
		}),
		Reservations: table.New(ids.KindReservation, owner, rsrvLeafBits, func(slot *ReservationImpl, me ids.ID) {
			slot.init(me)
		}),
		IndexSpaces: table.New(ids.KindIndexSpace, owner, indexSpaceLeafBits, func(slot *IndexSpaceImpl, me ids.ID) {
			slot.init(me)
		}),
		ProcGroups: table.New(ids.KindProcGroup, owner, procGroupLeafBits, func(slot *ProcGroupImpl, me ids.ID) {
			slot.init(me)
		}),
	}

	// one system memory per node; the memory manager itself lives outside
	// the core, the registry slot just anchors the ID
	n.Memories = append(n.Memories, &MemoryImpl{me: ids.Make(ids.KindMemory, owner, 1)})

	// remote entries are placeholders carrying the well-known ID; only the
	// local node's workers are ever started. The trailing utility processor
	// hosts init tasks so they can block without starving a CPU worker.
	for w := 0; w < workers; w++ {
		impl := proc.NewProcessorImpl(ids.Make(ids.KindProcessor, owner, uint64(w+1)), proc.KindCPU)
		n.Processors = append(n.Processors, impl)
	}
	util := proc.NewProcessorImpl(ids.Make(ids.KindProcessor, owner, uint64(workers+1)), proc.KindUtility)
	n.Processors = append(n.Processors, util)
	return n
}
