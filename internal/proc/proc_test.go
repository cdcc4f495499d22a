package proc

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/weft/internal/ids"
)

func newTestProc() *ProcessorImpl {
	return NewProcessorImpl(ids.Make(ids.KindProcessor, 0, 1), KindCPU)
}

func TestEnqueueRunsInOrder(t *testing.T) {
	p := newTestProc()
	p.Start()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		if err := p.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 9 {
				close(done)
			}
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	<-done
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order execution: %v", got)
		}
	}
}

func TestStopDrainsQueue(t *testing.T) {
	p := newTestProc()
	p.Start()
	var ran int
	var mu sync.Mutex
	for i := 0; i < 100; i++ {
		p.Enqueue(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	p.Stop()
	mu.Lock()
	defer mu.Unlock()
	if ran != 100 {
		t.Fatalf("stop dropped work: ran %d of 100", ran)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	p := newTestProc()
	p.Start()
	p.Stop()
	if err := p.Enqueue(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestMachineViews(t *testing.T) {
	procs := []Processor{
		{ID: ids.Make(ids.KindProcessor, 0, 1), Kind: KindCPU},
		{ID: ids.Make(ids.KindProcessor, 0, 2), Kind: KindUtility},
		{ID: ids.Make(ids.KindProcessor, 1, 1), Kind: KindCPU},
	}
	m := NewMachine(procs)
	if got := m.AllProcessors(); len(got) != 3 {
		t.Fatalf("all processors: %d", len(got))
	}
	cpus := m.ProcessorsByKind(KindCPU)
	if len(cpus) != 2 {
		t.Fatalf("cpu processors: %d", len(cpus))
	}
	for _, p := range cpus {
		if p.Kind != KindCPU {
			t.Fatalf("wrong kind in filter: %v", p.Kind)
		}
	}
}
