package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type tradeLikeEvent struct{ n int }

func (tradeLikeEvent) Topic() Topic { return TopicTradePrint }

// TestPublishSerializesConcurrentHandlerInvocation covers spec §5: two
// goroutines publishing concurrently must never run handlers at the same
// time. The handler records entry/exit under a counter that would exceed 1
// if invocations overlapped.
func TestPublishSerializesConcurrentHandlerInvocation(t *testing.T) {
	bus := New(zerolog.Nop(), nil)

	var inFlight atomic.Int32
	var overlapped atomic.Bool
	bus.Subscribe(TopicTradePrint, func(evt Event) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			bus.Publish(tradeLikeEvent{n: n})
		}(i)
	}
	wg.Wait()

	if overlapped.Load() {
		t.Fatalf("handler invocations overlapped across concurrent Publish calls")
	}
}

// TestPublishReentrantFromHandlerDoesNotDeadlock covers spec §4.1: handlers
// may publish further events on the same call frame.
func TestPublishReentrantFromHandlerDoesNotDeadlock(t *testing.T) {
	bus := New(zerolog.Nop(), nil)

	var nested int
	bus.Subscribe(TopicOrderPlaced, func(evt Event) { nested++ })
	bus.Subscribe(TopicTradePrint, func(evt Event) {
		bus.Publish(orderPlacedLikeEvent{})
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(tradeLikeEvent{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reentrant Publish deadlocked")
	}

	if nested != 1 {
		t.Fatalf("nested handler invoked %d times, want 1", nested)
	}
}

type orderPlacedLikeEvent struct{}

func (orderPlacedLikeEvent) Topic() Topic { return TopicOrderPlaced }
