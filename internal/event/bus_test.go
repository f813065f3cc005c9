package event

import (
	"sync"
	"testing"
)

func TestBus_PublishOrder(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.SubscribeAll(func(e Event) { got = append(got, "all:"+e.EventType()) })
	bus.Subscribe(TypeWorkerStarted, func(e Event) { got = append(got, "specific:"+e.EventType()) })

	bus.Publish(NewWorkerStartedEvent("s", "coder", "write it", 1))
	bus.Publish(NewSessionStartedEvent("s", "task", nil))

	want := []string{
		"specific:" + TypeWorkerStarted,
		"all:" + TypeWorkerStarted,
		"all:" + TypeSessionStarted,
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	id := bus.Subscribe(TypeProgress, func(Event) { calls++ })
	other := bus.SubscribeAll(func(Event) {})

	if bus.SubscriptionCount() != 2 {
		t.Fatalf("SubscriptionCount() = %d, want 2", bus.SubscriptionCount())
	}
	if id == other {
		t.Fatal("subscription IDs must be unique")
	}
	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("second Unsubscribe should return false")
	}

	bus.Publish(NewProgressEvent("s", "Orchestrator", "", nil, "", 0))
	if calls != 0 {
		t.Errorf("handler called %d times after unsubscribe", calls)
	}

	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() after Clear = %d", bus.SubscriptionCount())
	}
}

func TestBus_PanickingHandler(t *testing.T) {
	bus := NewBus(nil)
	delivered := false
	bus.Subscribe(TypeReplanned, func(Event) { panic("boom") })
	bus.Subscribe(TypeReplanned, func(Event) { delivered = true })

	bus.Publish(NewReplannedEvent("s", 3, true))

	if !delivered {
		t.Error("handler after a panicking handler was not called")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)
	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bus.Publish(NewStateChangedEvent("s", "selecting", "executing", i))
		}(i)
	}
	wg.Wait()

	if count != 20 {
		t.Errorf("count = %d, want 20", count)
	}
}

func TestNewProgressEvent_CopiesSteps(t *testing.T) {
	steps := []string{"Agents initialized"}
	e := NewProgressEvent("s", "Orchestrator", "task", steps, "", 0)
	steps[0] = "mutated"

	if e.Steps[0] != "Agents initialized" {
		t.Errorf("Steps aliased caller slice: %v", e.Steps)
	}
	if e.EventType() != TypeProgress || e.Timestamp().IsZero() {
		t.Errorf("unexpected base fields: %q %v", e.EventType(), e.Timestamp())
	}
}
