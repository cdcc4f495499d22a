package table

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/weft/internal/ids"
)

type fakeSlot struct {
	me    ids.ID
	inits int
}

func newTestTable(owner ids.NodeID, leafBits uint) *Table[fakeSlot] {
	return New(ids.KindEvent, owner, leafBits, func(s *fakeSlot, me ids.ID) {
		s.me = me
		s.inits++
	})
}

func TestLookupStampsWellKnownID(t *testing.T) {
	tbl := newTestTable(3, 4)
	s, err := tbl.Lookup(21)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	want := ids.Make(ids.KindEvent, 3, 21)
	if s.me != want {
		t.Fatalf("slot id mismatch: got %s want %s", s.me, want)
	}
	if s.inits != 1 {
		t.Fatalf("slot initialized %d times", s.inits)
	}
}

func TestLookupIsReferentiallyStable(t *testing.T) {
	tbl := newTestTable(0, 4)
	a, err := tbl.Lookup(7)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	b, err := tbl.Lookup(7)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if a != b {
		t.Fatalf("lookup of same index returned distinct slots")
	}
	// forcing other leaves into existence must not move the slot
	for i := uint64(0); i < 8; i++ {
		if _, err := tbl.Lookup(i << 4); err != nil {
			t.Fatalf("lookup leaf %d: %v", i, err)
		}
	}
	c, _ := tbl.Lookup(7)
	if a != c {
		t.Fatalf("slot moved after leaf growth")
	}
}

func TestLookupOutOfRange(t *testing.T) {
	tbl := newTestTable(0, 4)
	_, err := tbl.Lookup(tbl.MaxIndex() + 1)
	if !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestAllocSkipsReservedIndexZero(t *testing.T) {
	tbl := newTestTable(0, 4)
	fl := NewFreeList(tbl)
	id, _, err := fl.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if id.Index() == 0 {
		t.Fatalf("allocator handed out the reserved index 0")
	}
}

func TestAllocGrowsAndYieldsUniqueIDs(t *testing.T) {
	tbl := newTestTable(2, 3) // 8-slot leaves to force growth fast
	fl := NewFreeList(tbl)
	seen := make(map[ids.ID]bool)
	for i := 0; i < 40; i++ {
		id, slot, err := fl.Alloc()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		if id.Kind() != ids.KindEvent || id.Owner() != 2 {
			t.Fatalf("bad id %s", id)
		}
		if slot.me != id {
			t.Fatalf("slot stamped %s but allocated as %s", slot.me, id)
		}
	}
}

func TestReleaseReusesSlot(t *testing.T) {
	tbl := newTestTable(0, 4)
	fl := NewFreeList(tbl)
	id, first, err := fl.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := fl.Release(id); err != nil {
		t.Fatalf("release: %v", err)
	}
	id2, second, err := fl.Alloc()
	if err != nil {
		t.Fatalf("realloc: %v", err)
	}
	if id2 != id || first != second {
		t.Fatalf("released slot was not reused: %s vs %s", id, id2)
	}
}

func TestConcurrentAlloc(t *testing.T) {
	tbl := newTestTable(1, 4)
	fl := NewFreeList(tbl)

	const workers = 8
	const perWorker = 50
	var mu sync.Mutex
	seen := make(map[ids.ID]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, _, err := fl.Alloc()
				if err != nil {
					t.Errorf("alloc: %v", err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*perWorker {
		t.Fatalf("allocated %d unique ids, want %d", len(seen), workers*perWorker)
	}
}

func TestAllocExhaustion(t *testing.T) {
	// A tiny table: leafBits=1 gives 2 slots per leaf, InnerBits fixes the
	// leaf count, so exhaustion is reachable only via MaxIndex math. Verify
	// the error path by draining a clamped table through its whole range.
	tbl := newTestTable(0, 1)
	fl := NewFreeList(tbl)
	total := int(tbl.MaxIndex()) // index 0 is reserved
	for i := 0; i < total; i++ {
		if _, _, err := fl.Alloc(); err != nil {
			t.Fatalf("alloc %d/%d: %v", i, total, err)
		}
	}
	if _, _, err := fl.Alloc(); !errors.Is(err, ErrTableFull) {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}
}
