package event

import (
	"sync"
	"testing"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	var received []Event
	bus.Subscribe("item.started", func(e Event) {
		received = append(received, e)
	})

	bus.Publish(NewItemStartedEvent("42", 0, false))
	bus.Publish(NewItemFinishedEvent("42", "completed", "")) // different type

	if len(received) != 1 {
		t.Fatalf("received %d events, want 1", len(received))
	}
	started, ok := received[0].(ItemStartedEvent)
	if !ok {
		t.Fatalf("received event has type %T, want ItemStartedEvent", received[0])
	}
	if started.ItemID != "42" {
		t.Errorf("ItemID = %q, want %q", started.ItemID, "42")
	}
	if started.Timestamp().IsZero() {
		t.Error("event timestamp is zero")
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.SubscribeAll(func(Event) { count++ })

	bus.Publish(NewWaveStartedEvent(0, []string{"1", "2"}))
	bus.Publish(NewBudgetWarningEvent("fleet", "", 80, 100))
	bus.Publish(NewFleetFinishedEvent("run-1", false, 2, 0))

	if count != 3 {
		t.Errorf("wildcard handler called %d times, want 3", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe("phase.completed", func(Event) { count++ })

	bus.Publish(NewPhaseCompletedEvent("42", "analysis", true, "pass", 1))
	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe() = false, want true")
	}
	bus.Publish(NewPhaseCompletedEvent("42", "planning", true, "pass", 1))

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}

	if bus.Unsubscribe("no-such-id") {
		t.Error("Unsubscribe() of unknown ID = true, want false")
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	called := false
	bus.Subscribe("item.started", func(Event) { panic("boom") })
	bus.Subscribe("item.started", func(Event) { called = true })

	bus.Publish(NewItemStartedEvent("1", -1, false))

	if !called {
		t.Error("second handler not called after first panicked")
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(NewItemStartedEvent("x", -1, false))
		}()
	}
	wg.Wait()

	if count != 10 {
		t.Errorf("handler called %d times, want 10", count)
	}
}
