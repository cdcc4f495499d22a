package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/weft/internal/ids"
)

// LoopbackMesh is an in-process N-node transport used by single-process
// runs and tests. Each (sender, target) pair gets its own ordered queue and
// delivery goroutine, which is exactly the FIFO-per-sender contract.
type LoopbackMesh struct {
	nodes []*loopbackNode
}

func NewLoopbackMesh(n int) *LoopbackMesh {
	m := &LoopbackMesh{}
	for i := 0; i < n; i++ {
		m.nodes = append(m.nodes, &loopbackNode{
			self:     ids.NodeID(i),
			mesh:     m,
			handlers: newHandlerSet(),
			gate:     newSeqGate(),
			links:    make(map[ids.NodeID]*loopbackLink),
		})
	}
	return m
}

// Node returns the transport endpoint for node i.
func (m *LoopbackMesh) Node(i int) Transport {
	return m.nodes[i]
}

type loopbackLink struct {
	queue chan Packet
	seq   atomic.Uint64
}

type loopbackNode struct {
	self     ids.NodeID
	mesh     *LoopbackMesh
	handlers *handlerSet
	gate     *seqGate

	linksMu sync.Mutex
	links   map[ids.NodeID]*loopbackLink

	// closeMu is held shared across every queue send so Close never closes
	// a queue out from under an in-flight Send.
	closeMu sync.RWMutex
	closed  bool

	inflight sync.WaitGroup
}

func (n *loopbackNode) Self() ids.NodeID { return n.self }
func (n *loopbackNode) NumNodes() int    { return len(n.mesh.nodes) }

func (n *loopbackNode) RegisterHandler(kind uint32, h Handler) {
	n.handlers.register(kind, h)
}

func (n *loopbackNode) Start() error {
	return nil
}

func (n *loopbackNode) Send(target ids.NodeID, kind uint32, payload []byte) error {
	if int(target) >= len(n.mesh.nodes) {
		return fmt.Errorf("%w: %d", ErrUnknownTarget, target)
	}
	n.closeMu.RLock()
	defer n.closeMu.RUnlock()
	if n.closed {
		return ErrClosed
	}

	n.linksMu.Lock()
	link, ok := n.links[target]
	if !ok {
		link = &loopbackLink{queue: make(chan Packet, 256)}
		n.links[target] = link
		go n.deliver(target, link)
	}
	n.linksMu.Unlock()

	n.inflight.Add(1)
	link.queue <- Packet{
		Sender:  n.self,
		Seq:     link.seq.Add(1),
		Kind:    kind,
		Payload: payload,
	}
	return nil
}

func (n *loopbackNode) deliver(target ids.NodeID, link *loopbackLink) {
	peer := n.mesh.nodes[target]
	for p := range link.queue {
		peer.dispatch(p)
		n.inflight.Done()
	}
}

func (n *loopbackNode) dispatch(p Packet) {
	if !n.gate.admit(p.Sender, p.Seq) {
		return
	}
	h, ok := n.handlers.get(p.Kind)
	if !ok {
		log.Warn().
			Uint32("kind", p.Kind).
			Uint32("sender", uint32(p.Sender)).
			Msg("loopback: no handler for message kind")
		return
	}
	h(p)
}

// Flush waits until every message this node has sent so far has been
// consumed by its receiver's handler.
func (n *loopbackNode) Flush() {
	n.inflight.Wait()
}

func (n *loopbackNode) Close() error {
	n.closeMu.Lock()
	defer n.closeMu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.linksMu.Lock()
	defer n.linksMu.Unlock()
	for _, link := range n.links {
		close(link.queue)
	}
	return nil
}
