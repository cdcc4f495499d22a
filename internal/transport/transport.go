// Package transport delivers typed short messages between nodes with FIFO
// order per sender and at-least-once semantics. Receivers drop duplicate
// deliveries by per-pair sequence number, so handlers observe each message
// once in send order.
package transport

import (
	"errors"
	"sync"

	"github.com/danmuck/weft/internal/ids"
)

var (
	ErrUnknownTarget = errors.New("transport: unknown target node")
	ErrClosed        = errors.New("transport: closed")
)

// Packet is one delivered active message.
type Packet struct {
	Sender  ids.NodeID
	Seq     uint64
	Kind    uint32
	Payload []byte
}

// Handler consumes one packet. Handlers run on the transport's delivery
// goroutines and must not block on user events.
type Handler func(p Packet)

type Transport interface {
	Self() ids.NodeID
	NumNodes() int
	RegisterHandler(kind uint32, h Handler)
	Send(target ids.NodeID, kind uint32, payload []byte) error
	Start() error
	// Flush blocks until every message queued so far has left this node's
	// send queues: the loopback mesh waits for the receiver's handler to
	// return, TCP waits for the frame to be written to its link. Used by
	// the two-phase shutdown drain.
	Flush()
	Close() error
}

// seqGate is the per-pair duplicate filter. Links deliver FIFO, so any
// sequence number at or below the last seen one is a redelivery.
type seqGate struct {
	mu   sync.Mutex
	last map[ids.NodeID]uint64
}

func newSeqGate() *seqGate {
	return &seqGate{last: make(map[ids.NodeID]uint64)}
}

// admit reports whether the packet is fresh and records it.
func (g *seqGate) admit(sender ids.NodeID, seq uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq <= g.last[sender] {
		return false
	}
	g.last[sender] = seq
	return true
}

// handlerSet is the shared kind -> handler registry.
type handlerSet struct {
	mu       sync.RWMutex
	handlers map[uint32]Handler
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[uint32]Handler)}
}

func (s *handlerSet) register(kind uint32, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

func (s *handlerSet) get(kind uint32) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[kind]
	return h, ok
}
