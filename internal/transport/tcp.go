package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/protocol/frame"
)

// TCPConfig wires one node into a cluster of framed TCP links. Addrs is
// indexed by node ID and shared by every node in the cluster.
type TCPConfig struct {
	Self    ids.NodeID
	Addrs   []string
	Limits  frame.Limits
	Backoff BackoffConfig

	// MaxDialAttempts bounds reconnect attempts per link before the
	// transport gives up and escalates through OnFailure.
	MaxDialAttempts int
	OnFailure       func(err error)
}

func (c *TCPConfig) applyDefaults() {
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = frame.DefaultLimits()
	}
	if c.Backoff.InitialDelay == 0 {
		c.Backoff = DefaultBackoff()
	}
	if c.MaxDialAttempts == 0 {
		c.MaxDialAttempts = 8
	}
}

// TCP is the cross-process transport. Outbound frames to each peer flow
// through one writer goroutine over one dialed connection, which preserves
// FIFO per sender; inbound frames arrive on accepted connections and are
// dispatched after the duplicate gate.
type TCP struct {
	cfg      TCPConfig
	handlers *handlerSet
	gate     *seqGate
	rng      *rand.Rand

	ln net.Listener

	peersMu sync.Mutex
	peers   map[ids.NodeID]*tcpPeer

	// closeMu is held shared across every queue send so Close never closes
	// a queue out from under an in-flight Send.
	closeMu sync.RWMutex
	closed  bool

	done     chan struct{}
	inflight sync.WaitGroup
}

type tcpPeer struct {
	queue chan frame.Frame
	seq   atomic.Uint64
}

func NewTCP(cfg TCPConfig) (*TCP, error) {
	cfg.applyDefaults()
	if int(cfg.Self) >= len(cfg.Addrs) {
		return nil, fmt.Errorf("%w: self %d with %d addrs", ErrUnknownTarget, cfg.Self, len(cfg.Addrs))
	}
	return &TCP{
		cfg:      cfg,
		handlers: newHandlerSet(),
		gate:     newSeqGate(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		peers:    make(map[ids.NodeID]*tcpPeer),
		done:     make(chan struct{}),
	}, nil
}

func (t *TCP) Self() ids.NodeID { return t.cfg.Self }
func (t *TCP) NumNodes() int    { return len(t.cfg.Addrs) }

func (t *TCP) RegisterHandler(kind uint32, h Handler) {
	t.handlers.register(kind, h)
}

func (t *TCP) Start() error {
	ln, err := net.Listen("tcp", t.cfg.Addrs[t.cfg.Self])
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", t.cfg.Addrs[t.cfg.Self], err)
	}
	t.ln = ln
	go t.acceptLoop()
	return nil
}

func (t *TCP) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			log.Warn().Err(err).Msg("transport: accept failed")
			continue
		}
		go t.readLoop(conn)
	}
}

func (t *TCP) readLoop(conn net.Conn) {
	defer conn.Close()
	for {
		f, err := frame.ReadFrame(conn, t.cfg.Limits)
		if err != nil {
			select {
			case <-t.done:
			default:
				log.Debug().Err(err).Msg("transport: link closed")
			}
			return
		}
		t.dispatch(Packet{
			Sender:  ids.NodeID(f.Header.Sender),
			Seq:     f.Header.Seq,
			Kind:    f.Header.MsgType,
			Payload: f.Payload,
		})
	}
}

func (t *TCP) dispatch(p Packet) {
	if !t.gate.admit(p.Sender, p.Seq) {
		return
	}
	h, ok := t.handlers.get(p.Kind)
	if !ok {
		log.Warn().
			Uint32("kind", p.Kind).
			Uint32("sender", uint32(p.Sender)).
			Msg("transport: no handler for message kind")
		return
	}
	h(p)
}

func (t *TCP) Send(target ids.NodeID, kind uint32, payload []byte) error {
	if int(target) >= len(t.cfg.Addrs) {
		return fmt.Errorf("%w: %d", ErrUnknownTarget, target)
	}

	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	if t.closed {
		return ErrClosed
	}

	t.peersMu.Lock()
	peer, ok := t.peers[target]
	if !ok {
		peer = &tcpPeer{queue: make(chan frame.Frame, 256)}
		t.peers[target] = peer
		go t.writeLoop(target, peer)
	}
	t.peersMu.Unlock()

	t.inflight.Add(1)
	peer.queue <- frame.Frame{
		Header: frame.Header{
			Seq:     peer.seq.Add(1),
			MsgType: kind,
			Sender:  uint32(t.cfg.Self),
		},
		Payload: payload,
	}
	return nil
}

func (t *TCP) writeLoop(target ids.NodeID, peer *tcpPeer) {
	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for f := range peer.queue {
		for {
			if conn == nil {
				conn = t.dial(target)
				if conn == nil {
					t.inflight.Done()
					return
				}
			}
			if err := frame.WriteFrame(conn, f, t.cfg.Limits); err != nil {
				log.Warn().Err(err).Uint32("target", uint32(target)).Msg("transport: write failed, redialing")
				conn.Close()
				conn = nil
				continue
			}
			break
		}
		t.inflight.Done()
	}
}

// dial connects to a peer with capped exponential backoff. Returning nil
// means the transport gave up; the failure escalates to the runtime.
func (t *TCP) dial(target ids.NodeID) net.Conn {
	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxDialAttempts; attempt++ {
		select {
		case <-t.done:
			return nil
		default:
		}
		conn, err := net.DialTimeout("tcp", t.cfg.Addrs[target], 5*time.Second)
		if err == nil {
			return conn
		}
		lastErr = err
		time.Sleep(NextBackoffDelay(t.cfg.Backoff, attempt, t.rng))
	}
	err := fmt.Errorf("transport: dial node %d (%s) exhausted %d attempts: %w",
		target, t.cfg.Addrs[target], t.cfg.MaxDialAttempts, lastErr)
	log.Error().Err(err).Msg("transport: link unrecoverable")
	if t.cfg.OnFailure != nil {
		t.cfg.OnFailure(err)
	}
	return nil
}

// Flush waits until every frame queued so far has been written to its
// link. Delivery past the socket is the peer's reader's concern; combined
// with FIFO links this is sufficient for the shutdown drain.
func (t *TCP) Flush() {
	t.inflight.Wait()
}

func (t *TCP) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.peersMu.Lock()
	for _, peer := range t.peers {
		close(peer.queue)
	}
	t.peersMu.Unlock()
	t.closeMu.Unlock()

	if t.ln != nil {
		return t.ln.Close()
	}
	return nil
}
