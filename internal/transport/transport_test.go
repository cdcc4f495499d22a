package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/weft/internal/testutil/testlog"
)

func TestLoopbackFIFOPerSender(t *testing.T) {
	testlog.Start(t)
	mesh := NewLoopbackMesh(2)
	sender, receiver := mesh.Node(0), mesh.Node(1)

	var mu sync.Mutex
	var got []uint64
	receiver.RegisterHandler(1, func(p Packet) {
		mu.Lock()
		got = append(got, p.Seq)
		mu.Unlock()
	})
	if err := receiver.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		if err := sender.Send(1, 1, nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	sender.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Fatalf("delivered %d, want %d", len(got), n)
	}
	for i, seq := range got {
		if seq != uint64(i+1) {
			t.Fatalf("out of order at %d: seq %d", i, seq)
		}
	}
}

func TestLoopbackUnknownTarget(t *testing.T) {
	mesh := NewLoopbackMesh(1)
	if err := mesh.Node(0).Send(5, 1, nil); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestLoopbackSendAfterClose(t *testing.T) {
	mesh := NewLoopbackMesh(2)
	n := mesh.Node(0)
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := n.Send(1, 1, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSeqGateDropsDuplicatesKeepsOrder(t *testing.T) {
	g := newSeqGate()
	if !g.admit(1, 1) || !g.admit(1, 2) {
		t.Fatalf("fresh sequences rejected")
	}
	if g.admit(1, 2) || g.admit(1, 1) {
		t.Fatalf("duplicate delivery admitted")
	}
	if !g.admit(2, 1) {
		t.Fatalf("per-pair state leaked across senders")
	}
	if !g.admit(1, 3) {
		t.Fatalf("next sequence rejected after duplicates")
	}
}

func TestLoopbackSelfSend(t *testing.T) {
	mesh := NewLoopbackMesh(1)
	n := mesh.Node(0)
	done := make(chan Packet, 1)
	n.RegisterHandler(7, func(p Packet) { done <- p })
	if err := n.Send(0, 7, []byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case p := <-done:
		if p.Sender != 0 || string(p.Payload) != "x" {
			t.Fatalf("bad packet: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("self-send not delivered")
	}
}

func freeAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		addrs[i] = ln.Addr().String()
		ln.Close()
	}
	return addrs
}

func TestTCPRoundTrip(t *testing.T) {
	testlog.Start(t)
	addrs := freeAddrs(t, 2)

	a, err := NewTCP(TCPConfig{Self: 0, Addrs: addrs})
	if err != nil {
		t.Fatalf("new tcp: %v", err)
	}
	b, err := NewTCP(TCPConfig{Self: 1, Addrs: addrs})
	if err != nil {
		t.Fatalf("new tcp: %v", err)
	}

	got := make(chan Packet, 16)
	b.RegisterHandler(3, func(p Packet) { got <- p })

	if err := a.Start(); err != nil {
		t.Fatalf("start a: %v", err)
	}
	defer a.Close()
	if err := b.Start(); err != nil {
		t.Fatalf("start b: %v", err)
	}
	defer b.Close()

	for i := 0; i < 5; i++ {
		if err := a.Send(1, 3, []byte{byte(i)}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	a.Flush()

	for i := 0; i < 5; i++ {
		select {
		case p := <-got:
			if p.Sender != 0 || p.Seq != uint64(i+1) || p.Payload[0] != byte(i) {
				t.Fatalf("packet %d mismatch: %+v", i, p)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for packet %d", i)
		}
	}
}

func TestTCPFailureEscalation(t *testing.T) {
	testlog.Start(t)
	addrs := []string{"127.0.0.1:1", "127.0.0.1:1"} // nothing listens here
	failed := make(chan error, 1)
	tp, err := NewTCP(TCPConfig{
		Self:            0,
		Addrs:           addrs,
		MaxDialAttempts: 2,
		Backoff:         BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1.0},
		OnFailure:       func(err error) { failed <- err },
	})
	if err != nil {
		t.Fatalf("new tcp: %v", err)
	}
	if err := tp.Send(1, 1, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatalf("transport failure never escalated")
	}
	tp.Close()
}
