// Package table implements the two-level sparse slot table that backs every
// ID-addressed object registry on a node, plus the per-kind free list used
// to allocate new slots on the owner.
package table

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/weft/internal/ids"
)

var (
	ErrIndexOutOfRange = errors.New("table: index out of range")
	ErrTableFull       = errors.New("table: no free slots left")
)

const (
	// InnerBits fixes the arity of the single inner directory level.
	InnerBits = 10

	// DefaultLeafBits suits high-churn kinds (events). Low-churn kinds
	// (barriers, index spaces) use smaller leaves.
	DefaultLeafBits = 8

	noIndex = ^uint64(0)
)

// leaf holds 1<<leafBits slots plus the free-list link per slot. Leaves are
// never freed or moved, so a *E handed out by Lookup stays valid for the
// table's lifetime.
type leaf[E any] struct {
	first uint64
	elems []E
	next  []uint64
}

// Table is a sparse index -> slot mapping. Structural mutation (leaf
// allocation) happens under mu; readers of an already-published leaf take no
// lock at all. Slot payloads carry their own locks.
type Table[E any] struct {
	kind     ids.Kind
	owner    ids.NodeID
	leafBits uint

	// initSlot stamps a freshly allocated slot with its well-known ID.
	initSlot func(slot *E, me ids.ID)

	mu     sync.Mutex
	leaves []atomic.Pointer[leaf[E]]
}

func New[E any](kind ids.Kind, owner ids.NodeID, leafBits uint, initSlot func(slot *E, me ids.ID)) *Table[E] {
	if leafBits == 0 {
		leafBits = DefaultLeafBits
	}
	return &Table[E]{
		kind:     kind,
		owner:    owner,
		leafBits: leafBits,
		initSlot: initSlot,
		leaves:   make([]atomic.Pointer[leaf[E]], 1<<InnerBits),
	}
}

func (t *Table[E]) Kind() ids.Kind    { return t.kind }
func (t *Table[E]) Owner() ids.NodeID { return t.owner }

func (t *Table[E]) leafMask() uint64 { return (1 << t.leafBits) - 1 }

// MaxIndex is the largest index this table can address.
func (t *Table[E]) MaxIndex() uint64 {
	return uint64(1)<<(InnerBits+t.leafBits) - 1
}

// Lookup returns the slot for index, allocating its leaf lazily. The
// returned pointer is referentially stable.
func (t *Table[E]) Lookup(index uint64) (*E, error) {
	l, err := t.leafFor(index)
	if err != nil {
		return nil, err
	}
	return &l.elems[index&t.leafMask()], nil
}

func (t *Table[E]) leafFor(index uint64) (*leaf[E], error) {
	li := index >> t.leafBits
	if li >= uint64(len(t.leaves)) {
		return nil, fmt.Errorf("%w: index %d exceeds %d", ErrIndexOutOfRange, index, t.MaxIndex())
	}
	if l := t.leaves[li].Load(); l != nil {
		return l, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if l := t.leaves[li].Load(); l != nil {
		return l, nil
	}

	size := uint64(1) << t.leafBits
	l := &leaf[E]{
		first: li << t.leafBits,
		elems: make([]E, size),
		next:  make([]uint64, size),
	}
	for i := uint64(0); i < size; i++ {
		l.next[i] = noIndex
		if t.initSlot != nil {
			t.initSlot(&l.elems[i], ids.Make(t.kind, t.owner, l.first+i))
		}
	}
	t.leaves[li].Store(l)
	return l, nil
}
