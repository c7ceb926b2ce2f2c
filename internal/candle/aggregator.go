// Package candle subscribes to TradePrint events and buckets them into
// OHLCV candles by event time, emitting finalized candles to the store
// (spec §4.6). Bucket emission is triggered by the arrival of a trade in a
// later bucket, never by wall-clock time, so event-time replays are
// deterministic regardless of replay speed.
package candle

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/eventbus"
)

// Sink receives a finalized candle for durable persistence. The store
// satisfies this interface.
type Sink interface {
	AddCandle(c eventbus.CandleEvent)
}

type bucket struct {
	openTimeMs int64
	open       float64
	high       float64
	low        float64
	close      float64
	volume     float64
	hasData    bool
}

type symbolState struct {
	currentBucketKey int64
	hasBucket        bool
	buf              bucket
}

// Aggregator maintains one in-flight bucket per (symbol, resolution) pair.
// It exclusively owns these buffers; no other component reads or writes
// them directly.
type Aggregator struct {
	mu           sync.Mutex
	resolutionMs int64
	source       eventbus.CandleSource
	states       map[string]*symbolState
	sink         Sink
	bus          *eventbus.Bus
	log          zerolog.Logger
	subID        eventbus.SubscriberID
}

// New creates an Aggregator for a single resolution. A run with multiple
// candle resolutions uses one Aggregator per resolution, all subscribed to
// the same bus.
func New(bus *eventbus.Bus, sink Sink, resolutionMs int64, source eventbus.CandleSource, log zerolog.Logger) *Aggregator {
	a := &Aggregator{
		resolutionMs: resolutionMs,
		source:       source,
		states:       make(map[string]*symbolState),
		sink:         sink,
		bus:          bus,
		log:          log,
	}
	a.subID = bus.Subscribe(eventbus.TopicTradePrint, a.onTrade)
	return a
}

// Close unsubscribes the aggregator from the bus. Callers should Flush
// before Close to avoid losing the final in-flight bucket.
func (a *Aggregator) Close() {
	a.bus.Unsubscribe(eventbus.TopicTradePrint, a.subID)
}

func (a *Aggregator) onTrade(evt eventbus.Event) {
	t := evt.(eventbus.TradePrintEvent)

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states[t.Symbol]
	if !ok {
		st = &symbolState{}
		a.states[t.Symbol] = st
	}

	bucketKey := floorBucket(t.EventTimeMs, a.resolutionMs)

	if st.hasBucket && st.currentBucketKey != bucketKey {
		a.emitLocked(t.Symbol, st)
	}
	st.currentBucketKey = bucketKey
	st.hasBucket = true

	if !st.buf.hasData {
		st.buf = bucket{
			openTimeMs: bucketKey,
			open:       t.Price,
			high:       t.Price,
			low:        t.Price,
			close:      t.Price,
			volume:     t.Qty,
			hasData:    true,
		}
		return
	}

	if t.Price > st.buf.high {
		st.buf.high = t.Price
	}
	if t.Price < st.buf.low {
		st.buf.low = t.Price
	}
	st.buf.close = t.Price
	st.buf.volume += t.Qty
}

// emitLocked publishes and persists the current buffer for symbol, then
// resets it. Caller must hold a.mu.
func (a *Aggregator) emitLocked(symbol string, st *symbolState) {
	if !st.buf.hasData {
		return
	}

	c := eventbus.CandleEvent{
		Symbol:       symbol,
		ResolutionMs: a.resolutionMs,
		OpenTimeMs:   st.buf.openTimeMs,
		Open:         st.buf.open,
		High:         st.buf.high,
		Low:          st.buf.low,
		Close:        st.buf.close,
		Volume:       st.buf.volume,
		Source:       a.source,
	}

	a.sink.AddCandle(c)
	a.bus.Publish(c)

	st.buf = bucket{}
}

// FlushPendingData emits every symbol's current buffer as a finalized
// candle. Calling it twice in a row emits each buffered bucket exactly
// once: the second call finds empty buffers and is a no-op (spec §8
// testable property 7).
func (a *Aggregator) FlushPendingData() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for symbol, st := range a.states {
		a.emitLocked(symbol, st)
	}
}

func floorBucket(eventTimeMs, resolutionMs int64) int64 {
	if resolutionMs <= 0 {
		return eventTimeMs
	}
	// Euclidean floor division: event times are always non-negative in
	// practice, but guard against negative inputs for robustness.
	q := eventTimeMs / resolutionMs
	if eventTimeMs%resolutionMs != 0 && eventTimeMs < 0 {
		q--
	}
	return q * resolutionMs
}
