package ids

import (
	"errors"
	"fmt"
)

var ErrKindMismatch = errors.New("ids: kind mismatch")

// Kind tags the object class embedded in an ID.
type Kind uint8

const (
	KindNil Kind = iota
	KindEvent
	KindBarrier
	KindReservation
	KindIndexSpace
	KindProcGroup
	KindProcessor
	KindMemory
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindEvent:
		return "event"
	case KindBarrier:
		return "barrier"
	case KindReservation:
		return "reservation"
	case KindIndexSpace:
		return "index_space"
	case KindProcGroup:
		return "proc_group"
	case KindProcessor:
		return "processor"
	case KindMemory:
		return "memory"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// NodeID identifies one node in the cluster. Node IDs are dense and
// assigned at startup from the cluster config ordering.
type NodeID uint32

// ID is a bit-packed object identifier: kind(8) | owner(20) | index(36).
// The zero ID is reserved and addresses no object.
type ID uint64

const (
	kindBits  = 8
	ownerBits = 20
	indexBits = 36

	MaxOwner = (1 << ownerBits) - 1
	MaxIndex = (1 << indexBits) - 1
)

func Make(kind Kind, owner NodeID, index uint64) ID {
	return ID(uint64(kind)<<(ownerBits+indexBits) |
		(uint64(owner)&MaxOwner)<<indexBits |
		index&MaxIndex)
}

func (id ID) Kind() Kind     { return Kind(id >> (ownerBits + indexBits)) }
func (id ID) Owner() NodeID  { return NodeID((id >> indexBits) & MaxOwner) }
func (id ID) Index() uint64  { return uint64(id) & MaxIndex }
func (id ID) IsNil() bool    { return id == 0 }
func (id ID) String() string { return fmt.Sprintf("%s/%d.%d", id.Kind(), id.Owner(), id.Index()) }

// Checked decodes for the kinds handles are built from. Decoding an ID
// through the wrong accessor fails with ErrKindMismatch.
func (id ID) AsEvent() (ID, error) {
	if id.Kind() != KindEvent {
		return 0, fmt.Errorf("%w: %s is not an event", ErrKindMismatch, id)
	}
	return id, nil
}

func (id ID) AsBarrier() (ID, error) {
	if id.Kind() != KindBarrier {
		return 0, fmt.Errorf("%w: %s is not a barrier", ErrKindMismatch, id)
	}
	return id, nil
}

func (id ID) AsProcessor() (ID, error) {
	if id.Kind() != KindProcessor {
		return 0, fmt.Errorf("%w: %s is not a processor", ErrKindMismatch, id)
	}
	return id, nil
}
