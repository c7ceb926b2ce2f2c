package candle

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/eventbus"
)

type fakeSink struct {
	candles []eventbus.CandleEvent
}

func (f *fakeSink) AddCandle(c eventbus.CandleEvent) { f.candles = append(f.candles, c) }

func trade(sym string, price, qty float64, eventTimeMs int64) eventbus.TradePrintEvent {
	return eventbus.TradePrintEvent{Symbol: sym, Price: price, Qty: qty, EventTimeMs: eventTimeMs}
}

// TestCandleAggregationCorrectness covers spec §8 E4.
func TestCandleAggregationCorrectness(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	sink := &fakeSink{}
	agg := New(bus, sink, 1000, eventbus.SourceLive, zerolog.Nop())
	defer agg.Close()

	bus.Publish(trade("BTCUSD", 100, 1, 0))
	bus.Publish(trade("BTCUSD", 105, 2, 400))
	bus.Publish(trade("BTCUSD", 95, 1, 900))
	bus.Publish(trade("BTCUSD", 110, 1, 1000)) // crosses into bucket 1000, emits bucket 0

	if len(sink.candles) != 1 {
		t.Fatalf("expected 1 emitted candle, got %d", len(sink.candles))
	}
	c := sink.candles[0]
	if c.OpenTimeMs != 0 || c.Open != 100 || c.High != 105 || c.Low != 95 || c.Close != 95 || c.Volume != 4 {
		t.Fatalf("unexpected bucket-0 candle: %+v", c)
	}

	agg.FlushPendingData()
	if len(sink.candles) != 2 {
		t.Fatalf("expected 2 emitted candles after flush, got %d", len(sink.candles))
	}
	c2 := sink.candles[1]
	if c2.OpenTimeMs != 1000 || c2.Open != 110 || c2.High != 110 || c2.Low != 110 || c2.Close != 110 || c2.Volume != 1 {
		t.Fatalf("unexpected bucket-1000 candle: %+v", c2)
	}
}

// TestFlushIdempotent covers spec §8 testable property 7.
func TestFlushIdempotent(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	sink := &fakeSink{}
	agg := New(bus, sink, 1000, eventbus.SourceLive, zerolog.Nop())
	defer agg.Close()

	bus.Publish(trade("ETHUSD", 50, 1, 10))

	agg.FlushPendingData()
	agg.FlushPendingData()

	if len(sink.candles) != 1 {
		t.Fatalf("expected exactly 1 emitted candle across two flushes, got %d", len(sink.candles))
	}
}

func TestBucketKeyIsFloorOfFirstTradeTime(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	sink := &fakeSink{}
	agg := New(bus, sink, 500, eventbus.SourceLive, zerolog.Nop())
	defer agg.Close()

	bus.Publish(trade("X", 1, 1, 1234))
	agg.FlushPendingData()

	if len(sink.candles) != 1 || sink.candles[0].OpenTimeMs != 1000 {
		t.Fatalf("unexpected candle: %+v", sink.candles)
	}
}

// TestBusDeliveryOrder covers spec §8 testable property 8.
func TestBusDeliveryOrder(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	var order []int
	bus.Subscribe(eventbus.TopicTradePrint, func(e eventbus.Event) { order = append(order, 1) })
	bus.Subscribe(eventbus.TopicTradePrint, func(e eventbus.Event) { order = append(order, 2) })
	bus.Subscribe(eventbus.TopicTradePrint, func(e eventbus.Event) { order = append(order, 3) })

	bus.Publish(trade("X", 1, 1, 1))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected delivery order: %v", order)
	}
}
