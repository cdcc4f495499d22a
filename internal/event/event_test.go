package event

import (
	"sync"
	"testing"

	"github.com/danmuck/weft/internal/ids"
)

type recordingNotifier struct {
	mu         sync.Mutex
	subscribes []ids.Event
	triggers   []struct {
		target ids.NodeID
		e      ids.Event
	}
}

func (n *recordingNotifier) SendEventSubscribe(owner ids.NodeID, e ids.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribes = append(n.subscribes, e)
}

func (n *recordingNotifier) SendEventTrigger(target ids.NodeID, e ids.Event, poisoned bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.triggers = append(n.triggers, struct {
		target ids.NodeID
		e      ids.Event
	}{target, e})
}

func newOwnedEvent(t *testing.T) (*GenEventImpl, *recordingNotifier) {
	t.Helper()
	impl := &GenEventImpl{}
	n := &recordingNotifier{}
	impl.Init(ids.Make(ids.KindEvent, 0, 1), 0, n)
	return impl, n
}

func TestGenerationZeroAlwaysTriggered(t *testing.T) {
	impl, _ := newOwnedEvent(t)
	if trig, poisoned := impl.HasTriggered(0); !trig || poisoned {
		t.Fatalf("gen 0 must be triggered clean: %v %v", trig, poisoned)
	}
	fired := false
	impl.Subscribe(0, WaiterFunc(func(_ ids.Event, poisoned bool) {
		fired = true
		if poisoned {
			t.Errorf("gen 0 fired poisoned")
		}
	}))
	if !fired {
		t.Fatalf("subscribe to gen 0 must fire immediately")
	}
}

func TestTriggerWakesWaiters(t *testing.T) {
	impl, _ := newOwnedEvent(t)
	e := impl.Fresh()
	w := NewChanWaiter()
	impl.Subscribe(e.Gen, w)
	select {
	case <-w.C:
		t.Fatalf("waiter fired before trigger")
	default:
	}
	impl.Trigger(e.Gen, false)
	if poisoned := <-w.C; poisoned {
		t.Fatalf("clean trigger reported poisoned")
	}
}

func TestSubscribeAfterTriggerFiresImmediately(t *testing.T) {
	impl, _ := newOwnedEvent(t)
	e := impl.Fresh()
	impl.Trigger(e.Gen, false)
	w := NewChanWaiter()
	impl.Subscribe(e.Gen, w)
	select {
	case <-w.C:
	default:
		t.Fatalf("waiter did not fire for already-triggered generation")
	}
}

func TestTriggerIsIdempotent(t *testing.T) {
	impl, _ := newOwnedEvent(t)
	e := impl.Fresh()
	var fires int
	impl.Subscribe(e.Gen, WaiterFunc(func(ids.Event, bool) { fires++ }))
	impl.Trigger(e.Gen, false)
	impl.Trigger(e.Gen, false)
	impl.Trigger(e.Gen, true) // same gen again, poison flag must not apply
	if fires != 1 {
		t.Fatalf("waiter fired %d times, want 1", fires)
	}
	if _, poisoned := impl.HasTriggered(e.Gen); poisoned {
		t.Fatalf("late poison re-trigger must be a no-op")
	}
}

func TestTriggerBelowCurrentIsNoOp(t *testing.T) {
	impl, _ := newOwnedEvent(t)
	e1 := impl.Fresh()
	e2 := ids.Event{ID: e1.ID, Gen: e1.Gen + 1}
	impl.Trigger(e2.Gen, false)
	impl.Trigger(e1.Gen, true)
	if trig, poisoned := impl.HasTriggered(e2.Gen); !trig || poisoned {
		t.Fatalf("state changed by stale trigger: %v %v", trig, poisoned)
	}
}

func TestPoisonPropagatesToWaiters(t *testing.T) {
	impl, _ := newOwnedEvent(t)
	e := impl.Fresh()
	w := NewChanWaiter()
	impl.Subscribe(e.Gen, w)
	impl.Trigger(e.Gen, true)
	if poisoned := <-w.C; !poisoned {
		t.Fatalf("poisoned trigger reported clean")
	}
}

func TestProxySubscribeSendsRemoteSubscription(t *testing.T) {
	impl := &GenEventImpl{}
	n := &recordingNotifier{}
	// owner is node 1, local node is 0: proxy slot
	impl.Init(ids.Make(ids.KindEvent, 1, 7), 0, n)

	impl.Subscribe(2, NewChanWaiter())
	if len(n.subscribes) != 1 || n.subscribes[0].Gen != 2 {
		t.Fatalf("expected one subscription for gen 2, got %+v", n.subscribes)
	}
	// second local waiter for the same generation must not resubscribe
	impl.Subscribe(2, NewChanWaiter())
	if len(n.subscribes) != 1 {
		t.Fatalf("duplicate remote subscription sent")
	}
}

func TestOwnerNotifiesRemoteSubscribers(t *testing.T) {
	impl, n := newOwnedEvent(t)
	e := impl.Fresh()
	impl.AddRemoteSubscriber(3, e.Gen)
	impl.Trigger(e.Gen, false)
	if len(n.triggers) != 1 || n.triggers[0].target != 3 {
		t.Fatalf("expected trigger notification to node 3, got %+v", n.triggers)
	}
	// subscriber arriving after the trigger gets notified immediately
	impl.AddRemoteSubscriber(4, e.Gen)
	if len(n.triggers) != 2 || n.triggers[1].target != 4 {
		t.Fatalf("late subscriber not notified: %+v", n.triggers)
	}
}

func TestMergeWaiterCountsDown(t *testing.T) {
	var got *bool
	m := NewMergeWaiter(3, func(poisoned bool) { got = &poisoned })
	m.EventTriggered(ids.Event{}, false)
	m.EventTriggered(ids.Event{}, true)
	if got != nil {
		t.Fatalf("merge fired early")
	}
	m.EventTriggered(ids.Event{}, false)
	if got == nil || !*got {
		t.Fatalf("merge must fire poisoned once all inputs trigger")
	}
}
