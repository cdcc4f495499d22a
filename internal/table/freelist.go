package table

import (
	"sync"

	"github.com/danmuck/weft/internal/ids"
)

// FreeList is the allocator for new implementors of one kind on the owner
// node. It is a singly linked list threaded through the slots by raw index;
// slots hold no back-pointers to the list or the table.
//
// Lock order: FreeList < Table. Alloc may grow the table by one leaf while
// holding the list lock; Lookup never touches the list.
type FreeList[E any] struct {
	mu        sync.Mutex
	tbl       *Table[E]
	head      uint64
	nextFresh uint64
}

func NewFreeList[E any](tbl *Table[E]) *FreeList[E] {
	return &FreeList[E]{tbl: tbl, head: noIndex}
}

// Alloc pops the head of the free list, growing the table by one leaf when
// the list is empty. Index 0 is never handed out: the zero ID is reserved.
func (f *FreeList[E]) Alloc() (ids.ID, *E, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.head == noIndex {
		if err := f.grow(); err != nil {
			return 0, nil, err
		}
	}

	idx := f.head
	l, err := f.tbl.leafFor(idx)
	if err != nil {
		return 0, nil, err
	}
	off := idx & f.tbl.leafMask()
	f.head = l.next[off]
	l.next[off] = noIndex

	return ids.Make(f.tbl.kind, f.tbl.owner, idx), &l.elems[off], nil
}

// Release pushes a destroyed slot back onto the list for reuse. The list
// does not touch the slot's contents; a slot type that tracks a
// creator-generation tag bumps it when the slot is set up again.
func (f *FreeList[E]) Release(id ids.ID) error {
	idx := id.Index()
	l, err := f.tbl.leafFor(idx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	off := idx & f.tbl.leafMask()
	l.next[off] = f.head
	f.head = idx
	return nil
}

func (f *FreeList[E]) grow() error {
	if f.nextFresh > f.tbl.MaxIndex() {
		return ErrTableFull
	}
	l, err := f.tbl.leafFor(f.nextFresh)
	if err != nil {
		return err
	}

	first := l.first
	last := first + f.tbl.leafMask()
	// Stitch the new slots into the list, oldest head last. Slot 0 of the
	// very first leaf stays unlinked: its index is the reserved nil ID.
	start := first
	if first == 0 {
		start = 1
	}
	for i := start; i < last; i++ {
		l.next[i&f.tbl.leafMask()] = i + 1
	}
	l.next[last&f.tbl.leafMask()] = f.head
	f.head = start
	f.nextFresh = last + 1
	return nil
}
