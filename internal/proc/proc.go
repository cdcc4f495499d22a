// Package proc hosts the worker side of the runtime: processor slots that
// execute queued task closures on their own goroutine, and the machine
// view handed to tasks.
package proc

import (
	"errors"
	"sync"

	"github.com/danmuck/weft/internal/ids"
)

var ErrStopped = errors.New("proc: processor stopped")

// TaskID names a registered task function. IDs below TaskIDFirstAvailable
// are reserved for the runtime.
type TaskID uint32

const TaskIDFirstAvailable TaskID = 4

// Kind classifies a processor.
type Kind int

const (
	KindCPU Kind = iota
	KindUtility
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindUtility:
		return "utility"
	}
	return "unknown"
}

// Processor is the user-visible handle.
type Processor struct {
	ID   ids.ID
	Kind Kind
}

// TaskFunc is a registered task body.
type TaskFunc func(args []byte, p Processor)

// ProcessorImpl runs queued closures one at a time on a dedicated
// goroutine. The facade wraps registered tasks, completion-event triggering
// and precondition gating into the closures it enqueues here.
type ProcessorImpl struct {
	me   ids.ID
	kind Kind

	mu      sync.RWMutex
	queue   chan func()
	stopped bool

	wg sync.WaitGroup
}

func NewProcessorImpl(me ids.ID, kind Kind) *ProcessorImpl {
	return &ProcessorImpl{
		me:    me,
		kind:  kind,
		queue: make(chan func(), 1024),
	}
}

func (p *ProcessorImpl) ID() ids.ID { return p.me }
func (p *ProcessorImpl) Kind() Kind { return p.kind }

func (p *ProcessorImpl) Handle() Processor {
	return Processor{ID: p.me, Kind: p.kind}
}

// Start launches the worker goroutine. Idempotence is the caller's
// concern; the runtime starts each processor exactly once.
func (p *ProcessorImpl) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for fn := range p.queue {
			fn()
		}
	}()
}

// Enqueue schedules a closure. Blocks briefly when the queue is full.
func (p *ProcessorImpl) Enqueue(fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	p.queue <- fn
	return nil
}

// Stop drains the queue and waits for the worker to finish. Enqueues
// racing with Stop either land before the close or fail with ErrStopped.
func (p *ProcessorImpl) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Machine is the cluster-wide processor view.
type Machine struct {
	procs []Processor
}

func NewMachine(procs []Processor) *Machine {
	return &Machine{procs: procs}
}

// AllProcessors returns every processor in the cluster, in node order.
func (m *Machine) AllProcessors() []Processor {
	out := make([]Processor, len(m.procs))
	copy(out, m.procs)
	return out
}

func (m *Machine) ProcessorsByKind(kind Kind) []Processor {
	var out []Processor
	for _, p := range m.procs {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}
