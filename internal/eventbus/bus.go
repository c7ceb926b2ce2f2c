// Package eventbus implements the in-process, topic-keyed publish/subscribe
// dispatcher that every other component communicates through.
//
// Unlike the teacher's type-erased payloads, handlers here receive a
// concrete Event interface value: the payload-type mismatch error category
// from the source system cannot occur, because publish and subscribe are
// both typed by topic.
package eventbus

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Topic identifies a stream of events. Topics are interned strings, not an
// enum, so new components can introduce their own without touching this
// package.
type Topic string

const (
	TopicTradePrint     Topic = "TradePrint"
	TopicOrderPlaced    Topic = "OrderPlaced"
	TopicOrderFilled    Topic = "OrderFilled"
	TopicOrderRejected  Topic = "OrderRejected"
	TopicPositionUpdate Topic = "PositionUpdated"
	TopicCandle         Topic = "Candle"
)

// Event is implemented by every payload variant published on the bus.
type Event interface {
	Topic() Topic
}

// Handler processes one event delivered synchronously on the publisher's
// call frame. A handler must not retain evt beyond the call.
type Handler func(evt Event)

// SubscriberID identifies a registered handler for later unsubscribe.
type SubscriberID uint64

type subscriber struct {
	id      SubscriberID
	handler Handler
}

// ErrorSink receives a handler-error count, keyed by topic, used for the
// bus-errors metric. It is optional; a nil sink is a no-op.
type ErrorSink func(topic Topic)

// Bus is a synchronous, in-process pub/sub dispatcher. Multiple handlers per
// topic are invoked in registration order. Zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]subscriber
	nextID atomic.Uint64
	log    zerolog.Logger
	onErr  ErrorSink

	// dispatchMu serializes handler invocation across every concurrent
	// Publish call (spec §5: "the bus serializes handler invocation per
	// publish call"). It is independent of mu, which only guards the
	// subscriber table. Handlers are allowed to call Publish again on the
	// same call frame (reentrant), so dispatchMu is made reentrant by hand:
	// dispatchState tracks which goroutine currently holds it and how many
	// nested Publish frames it has open, so a goroutine re-entering its own
	// dispatch session proceeds without blocking on itself, while any other
	// goroutine still queues behind dispatchMu.
	dispatchMu    sync.Mutex
	dispatchState sync.Mutex
	dispatchOwner uint64
	dispatchDepth int
}

// New creates an empty Bus.
func New(log zerolog.Logger, onErr ErrorSink) *Bus {
	return &Bus{
		subs:  make(map[Topic][]subscriber),
		log:   log,
		onErr: onErr,
	}
}

// Subscribe registers handler for topic and returns an id usable with
// Unsubscribe. Multiple handlers may subscribe to the same topic; delivery
// preserves the order in which they were added.
func (b *Bus) Subscribe(topic Topic, handler Handler) SubscriberID {
	id := SubscriberID(b.nextID.Add(1))

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return id
}

// Unsubscribe removes the handler registered under id for topic. Returns
// false if no such subscriber was found.
func (b *Bus) Unsubscribe(topic Topic, id SubscriberID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[topic]
	for i, s := range list {
		if s.id == id {
			b.subs[topic] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Publish synchronously invokes every current handler for evt's topic, in
// registration order. A publish with no subscribers is a no-op. Handlers
// may themselves call Publish (reentrant); the subscriber-table lock is not
// held across handler invocation, so this never deadlocks against
// Subscribe/Unsubscribe.
//
// Handler invocation itself is serialized bus-wide: two goroutines
// publishing concurrently never run handlers at the same time (spec §5).
//
// A handler panic is caught, logged, and does not prevent delivery to the
// remaining handlers for this topic — see spec §4.1 failure semantics.
func (b *Bus) Publish(evt Event) {
	topic := evt.Topic()

	b.mu.RLock()
	list := b.subs[topic]
	// Copy the handler list so that Subscribe/Unsubscribe calls made after
	// this point, including from within a handler, do not change this
	// delivery.
	handlers := make([]subscriber, len(list))
	copy(handlers, list)
	b.mu.RUnlock()

	b.enterDispatch()
	defer b.leaveDispatch()

	for _, s := range handlers {
		b.invoke(topic, s.handler, evt)
	}
}

// enterDispatch acquires dispatchMu, or, if the calling goroutine already
// holds it (a nested Publish from within a handler), just bumps the
// reentrancy depth. leaveDispatch is its counterpart.
func (b *Bus) enterDispatch() {
	gid := goroutineID()

	b.dispatchState.Lock()
	if b.dispatchDepth > 0 && b.dispatchOwner == gid {
		b.dispatchDepth++
		b.dispatchState.Unlock()
		return
	}
	b.dispatchState.Unlock()

	b.dispatchMu.Lock()

	b.dispatchState.Lock()
	b.dispatchOwner = gid
	b.dispatchDepth = 1
	b.dispatchState.Unlock()
}

func (b *Bus) leaveDispatch() {
	b.dispatchState.Lock()
	b.dispatchDepth--
	outermost := b.dispatchDepth == 0
	b.dispatchState.Unlock()

	if outermost {
		b.dispatchMu.Unlock()
	}
}

// goroutineID extracts the calling goroutine's id from its own stack trace
// header ("goroutine 123 [running]:"). It exists solely so enterDispatch can
// tell a reentrant Publish (same goroutine, nested call) apart from a
// genuinely concurrent one (different goroutine, must wait).
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := buf[:n]

	const prefix = "goroutine "
	if !bytes.HasPrefix(s, []byte(prefix)) {
		return 0
	}
	s = s[len(prefix):]

	i := bytes.IndexByte(s, ' ')
	if i < 0 {
		return 0
	}
	id, _ := strconv.ParseUint(string(s[:i]), 10, 64)
	return id
}

func (b *Bus) invoke(topic Topic, handler Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("topic", string(topic)).
				Interface("panic", r).
				Msg("event bus handler panicked")
			if b.onErr != nil {
				b.onErr(topic)
			}
		}
	}()
	handler(evt)
}

// SubscriberCount returns the number of handlers currently registered for
// topic, for diagnostics and tests.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
