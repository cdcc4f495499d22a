package event

import (
	"sync"

	"github.com/danmuck/weft/internal/ids"
)

// ChanWaiter parks a logical thread on a trigger. The channel receives the
// poison flag exactly once per registration.
type ChanWaiter struct {
	C chan bool
}

func NewChanWaiter() *ChanWaiter {
	return &ChanWaiter{C: make(chan bool, 1)}
}

func (w *ChanWaiter) EventTriggered(_ ids.Event, poisoned bool) {
	w.C <- poisoned
}

// MergeWaiter counts down across a set of input events and runs done once
// all of them have triggered. Poison on any input poisons the merge.
type MergeWaiter struct {
	mu        sync.Mutex
	remaining int
	poisoned  bool
	done      func(poisoned bool)
}

func NewMergeWaiter(count int, done func(poisoned bool)) *MergeWaiter {
	return &MergeWaiter{remaining: count, done: done}
}

func (m *MergeWaiter) EventTriggered(_ ids.Event, poisoned bool) {
	m.mu.Lock()
	m.remaining--
	if poisoned {
		m.poisoned = true
	}
	fire := m.remaining == 0
	p := m.poisoned
	m.mu.Unlock()
	if fire {
		m.done(p)
	}
}
