package events

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestBus_SubscribersInvokedInOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var order []int
	bus.Subscribe(KindGenerationComplete, func(Event) { order = append(order, 1) })
	bus.Subscribe(KindGenerationComplete, func(Event) { order = append(order, 2) })
	bus.Subscribe(KindGenerationComplete, func(Event) { order = append(order, 3) })

	bus.Publish(NewEvent(KindGenerationComplete, "s1"))

	if len(order) != 3 {
		t.Fatalf("expected 3 handler invocations, got %d", len(order))
	}
	for i, got := range order {
		if got != i+1 {
			t.Errorf("handler %d ran out of order: got %d", i, got)
		}
	}
}

func TestBus_KindIsolation(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var completeCount, failCount int
	bus.Subscribe(KindGenerationComplete, func(Event) { completeCount++ })
	bus.Subscribe(KindGenerationFailed, func(Event) { failCount++ })

	bus.Publish(NewEvent(KindGenerationComplete, "s1"))
	bus.Publish(NewEvent(KindGenerationComplete, "s1"))

	if completeCount != 2 {
		t.Errorf("expected 2 complete events, got %d", completeCount)
	}
	if failCount != 0 {
		t.Errorf("expected 0 failed events, got %d", failCount)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var count int
	unsubscribe := bus.Subscribe(KindLogMessage, func(Event) { count++ })

	bus.Publish(NewEvent(KindLogMessage, "s1"))
	unsubscribe()
	bus.Publish(NewEvent(KindLogMessage, "s1"))
	// Idempotent.
	unsubscribe()

	if count != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestBus_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var after int
	bus.Subscribe(KindTaskStateChanged, func(Event) { panic("boom") })
	bus.Subscribe(KindTaskStateChanged, func(Event) { after++ })

	bus.Publish(NewEvent(KindTaskStateChanged, "s1"))

	if after != 1 {
		t.Errorf("handler after panicking one did not run, count=%d", after)
	}
}

func TestBus_ConcurrentSubscribeDuringPublish(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	var count int
	bus.Subscribe(KindGenerationProgress, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(NewEvent(KindGenerationProgress, "s1"))
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cancel := bus.Subscribe(KindGenerationProgress, func(Event) {})
				cancel()
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 8*50 {
		t.Errorf("expected %d deliveries to the stable subscriber, got %d", 8*50, count)
	}
}
