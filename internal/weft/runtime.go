package weft

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/weft/internal/barrier"
	"github.com/danmuck/weft/internal/config"
	"github.com/danmuck/weft/internal/event"
	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/observability"
	"github.com/danmuck/weft/internal/proc"
	"github.com/danmuck/weft/internal/protocol/schema"
	"github.com/danmuck/weft/internal/redop"
	"github.com/danmuck/weft/internal/table"
	"github.com/danmuck/weft/internal/transport"
)

var (
	ErrNotLocal       = errors.New("weft: object is not on this node")
	ErrUnknownTask    = errors.New("weft: unknown task id")
	ErrDuplicateTask  = errors.New("weft: task already registered")
	ErrPoisoned       = errors.New("weft: poisoned generation")
	ErrAlreadyRunning = errors.New("weft: runtime already running")
)

// RunStyle selects how many copies of the init task Run launches.
type RunStyle int

const (
	OneTaskOnly RunStyle = iota
	OneTaskPerNode
	OneTaskPerProc
)

// Runtime is the per-process runtime instance. Every handle operation
// resolves through it: decode the ID, index the owner's table, apply
// locally or forward over the transport.
type Runtime struct {
	cfg    config.Cluster
	self   ids.NodeID
	tr     transport.Transport
	logger zerolog.Logger

	nodes  []*Node
	mach   *proc.Machine
	redops *redop.Registry

	taskMu sync.RWMutex
	tasks  map[proc.TaskID]proc.TaskFunc

	eventFree   *table.FreeList[event.GenEventImpl]
	barrierFree *table.FreeList[barrier.BarrierImpl]
	rsrvFree    *table.FreeList[ReservationImpl]
	ispaceFree  *table.FreeList[IndexSpaceImpl]
	pgroupFree  *table.FreeList[ProcGroupImpl]

	started      time.Time
	running      atomic.Bool
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

// New builds a runtime for one node of the cluster. The transport is
// injected so in-process tests can mesh several runtimes together.
func New(cfg config.Cluster, self ids.NodeID, tr transport.Transport) (*Runtime, error) {
	if err := config.ValidateCluster(cfg); err != nil {
		return nil, err
	}
	if int(self) >= len(cfg.Nodes) {
		return nil, fmt.Errorf("%w: node %d of %d", config.ErrInvalidCluster, self, len(cfg.Nodes))
	}

	rt := &Runtime{
		cfg:          cfg,
		self:         self,
		tr:           tr,
		logger:       log.With().Uint32("node", uint32(self)).Logger(),
		redops:       redop.NewRegistry(),
		tasks:        make(map[proc.TaskID]proc.TaskFunc),
		shutdownDone: make(chan struct{}),
	}

	var allProcs []proc.Processor
	for i, nodeCfg := range cfg.Nodes {
		n := rt.newNode(ids.NodeID(i), nodeCfg.Workers)
		rt.nodes = append(rt.nodes, n)
		for _, p := range n.Processors {
			allProcs = append(allProcs, p.Handle())
		}
	}
	rt.mach = proc.NewMachine(allProcs)

	local := rt.nodes[self]
	rt.eventFree = table.NewFreeList(local.Events)
	rt.barrierFree = table.NewFreeList(local.Barriers)
	rt.rsrvFree = table.NewFreeList(local.Reservations)
	rt.ispaceFree = table.NewFreeList(local.IndexSpaces)
	rt.pgroupFree = table.NewFreeList(local.ProcGroups)

	rt.registerHandlers()
	return rt, nil
}

func (rt *Runtime) Self() ids.NodeID       { return rt.self }
func (rt *Runtime) Machine() *proc.Machine { return rt.mach }

// StatusSource for the debug surface.
func (rt *Runtime) NodeID() uint32     { return uint32(rt.self) }
func (rt *Runtime) NumNodes() int      { return len(rt.nodes) }
func (rt *Runtime) Started() time.Time { return rt.started }
func (rt *Runtime) ShuttingDown() bool { return rt.shuttingDown.Load() }

// Init starts the transport, the local workers, and the optional status
// surface. It must be called exactly once before Run.
func (rt *Runtime) Init() error {
	if !rt.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	rt.started = time.Now()
	if err := rt.tr.Start(); err != nil {
		return err
	}
	for _, p := range rt.nodes[rt.self].Processors {
		p.Start()
	}
	observability.ServeStatus(rt.cfg.Nodes[rt.self].StatusAddr, rt)
	rt.logger.Info().
		Int("nodes", len(rt.nodes)).
		Int("workers", len(rt.nodes[rt.self].Processors)).
		Msg("runtime initialized")
	return nil
}

func (rt *Runtime) RegisterTask(id proc.TaskID, fn proc.TaskFunc) error {
	rt.taskMu.Lock()
	defer rt.taskMu.Unlock()
	if _, ok := rt.tasks[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateTask, id)
	}
	rt.tasks[id] = fn
	return nil
}

func (rt *Runtime) RegisterReduction(d redop.Descriptor) error {
	return rt.redops.Register(d)
}

func (rt *Runtime) taskFunc(id proc.TaskID) (proc.TaskFunc, error) {
	rt.taskMu.RLock()
	defer rt.taskMu.RUnlock()
	fn, ok := rt.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTask, id)
	}
	return fn, nil
}

// Run launches the init task according to style and, unless background is
// set, blocks until shutdown.
func (rt *Runtime) Run(task proc.TaskID, style RunStyle, args []byte, background bool) error {
	local := rt.nodes[rt.self].Processors
	if len(local) == 0 {
		return fmt.Errorf("%w: node %d has no processors", config.ErrInvalidCluster, rt.self)
	}

	// init tasks land on the utility processor so they can block on
	// barriers without starving a CPU worker
	init := local[0]
	for _, p := range local {
		if p.Kind() == proc.KindUtility {
			init = p
			break
		}
	}

	var targets []*proc.ProcessorImpl
	switch style {
	case OneTaskOnly:
		if rt.self == 0 {
			targets = []*proc.ProcessorImpl{init}
		}
	case OneTaskPerNode:
		targets = []*proc.ProcessorImpl{init}
	case OneTaskPerProc:
		for _, p := range local {
			if p.Kind() == proc.KindCPU {
				targets = append(targets, p)
			}
		}
	}

	for _, p := range targets {
		if _, err := rt.Spawn(p.Handle(), task, args, ids.NoEvent); err != nil {
			return err
		}
	}

	if !background {
		rt.WaitForShutdown()
	}
	return nil
}

// Spawn enqueues a registered task on a local processor and returns its
// completion event. An unsatisfied precondition defers the enqueue, not
// the caller.
func (rt *Runtime) Spawn(p proc.Processor, task proc.TaskID, args []byte, pre ids.Event) (ids.Event, error) {
	if p.ID.Owner() != rt.self {
		return ids.NoEvent, fmt.Errorf("%w: %s", ErrNotLocal, p.ID)
	}
	if _, err := p.ID.AsProcessor(); err != nil {
		return ids.NoEvent, err
	}
	fn, err := rt.taskFunc(task)
	if err != nil {
		return ids.NoEvent, err
	}
	idx := p.ID.Index()
	procs := rt.nodes[rt.self].Processors
	if idx == 0 || idx > uint64(len(procs)) {
		return ids.NoEvent, fmt.Errorf("%w: %s", ErrNotLocal, p.ID)
	}
	impl := procs[idx-1]

	done, err := rt.NewEvent()
	if err != nil {
		return ids.NoEvent, err
	}

	run := func() {
		err := impl.Enqueue(func() {
			fn(args, p)
			rt.TriggerEvent(done, false)
		})
		if err != nil {
			rt.logger.Warn().Err(err).Uint32("task", uint32(task)).Msg("spawn dropped during shutdown")
		}
	}

	if pre.Exists() {
		if err := rt.SubscribeEvent(pre, event.WaiterFunc(func(_ ids.Event, poisoned bool) {
			if poisoned {
				// poisoned precondition: the task never runs, its
				// completion event propagates the poison
				rt.TriggerEvent(done, true)
				return
			}
			run()
		})); err != nil {
			return ids.NoEvent, err
		}
		return done, nil
	}
	run()
	return done, nil
}

// Shutdown requests a cluster-wide shutdown: broadcast, flush, release.
// Safe to call from task code; the drain happens off the worker.
func (rt *Runtime) Shutdown() {
	payload, err := rt.encodeShutdown()
	if err != nil {
		rt.logger.Error().Err(err).Msg("shutdown broadcast encode failed")
	} else {
		for i := range rt.nodes {
			if ids.NodeID(i) == rt.self {
				continue
			}
			rt.sendMsg(ids.NodeID(i), schema.MsgRuntimeShutdown, payload)
		}
	}
	rt.beginShutdown(true)
}

func (rt *Runtime) beginShutdown(local bool) {
	rt.shutdownOnce.Do(func() {
		rt.shuttingDown.Store(true)
		rt.logger.Info().Bool("local_request", local).Msg("shutdown initiated")
		go func() {
			rt.tr.Flush()
			for _, p := range rt.nodes[rt.self].Processors {
				p.Stop()
			}
			rt.tr.Flush()
			if err := rt.tr.Close(); err != nil {
				rt.logger.Warn().Err(err).Msg("transport close")
			}
			close(rt.shutdownDone)
		}()
	})
}

// WaitForShutdown blocks until the node has drained and released.
func (rt *Runtime) WaitForShutdown() {
	<-rt.shutdownDone
}

// EscalateTransportFailure is the unrecoverable-link path: the node cannot
// keep its protocol obligations, so it shuts down abnormally.
func (rt *Runtime) EscalateTransportFailure(err error) {
	rt.logger.Error().Err(err).Msg("transport failure, shutting down")
	rt.beginShutdown(false)
}
