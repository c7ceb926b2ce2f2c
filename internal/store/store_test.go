package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/metrics"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(filepath.Join(dir, "test.db"))
	cfg.CandleBufferSize = 1000
	cfg.EventBufferSize = 1000

	s, err := Open(cfg, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCandleRoundTripLargeBatch(t *testing.T) {
	s := newTestStore(t)

	const n = 200_000
	for i := 0; i < n; i++ {
		s.AddCandle(eventbus.CandleEvent{
			Symbol:       "BTCUSD",
			ResolutionMs: 1000,
			OpenTimeMs:   int64(i * 1000),
			Open:         100, High: 101, Low: 99, Close: 100.5, Volume: 1,
			Source: eventbus.SourceLive,
		})
	}
	s.FlushAll()

	got, err := s.QueryCandles("BTCUSD", 1000, 0, int64(n*1000))
	if err != nil {
		t.Fatalf("QueryCandles: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d candles, got %d", n, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].OpenTimeMs <= got[i-1].OpenTimeMs {
			t.Fatalf("candles not strictly ascending at index %d", i)
		}
	}
}

func TestCandleQueryCacheHit(t *testing.T) {
	s := newTestStore(t)
	s.AddCandle(eventbus.CandleEvent{Symbol: "ETHUSD", ResolutionMs: 60000, OpenTimeMs: 0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Source: eventbus.SourceLive})
	s.FlushAll()

	if _, err := s.QueryCandles("ETHUSD", 60000, 0, 60000); err != nil {
		t.Fatalf("first query: %v", err)
	}
	before := testutil.ToFloat64(s.m.CacheHits.WithLabelValues("candles"))

	if _, err := s.QueryCandles("ETHUSD", 60000, 0, 60000); err != nil {
		t.Fatalf("second query: %v", err)
	}
	after := testutil.ToFloat64(s.m.CacheHits.WithLabelValues("candles"))

	if after <= before {
		t.Fatalf("expected cache hit counter to increase: before=%v after=%v", before, after)
	}
}

func TestEventRoundTripAndFilter(t *testing.T) {
	s := newTestStore(t)

	s.AddEvent(EventRecord{EventType: "OrderPlaced", EventTimeMs: 100, Symbol: "BTCUSD", Source: "live", PayloadJSON: `{"id":1}`})
	s.AddEvent(EventRecord{EventType: "OrderFilled", EventTimeMs: 200, Symbol: "BTCUSD", Source: "live", PayloadJSON: `{"id":1}`})
	s.FlushAll()

	all, err := s.QueryEvents("BTCUSD", 0, 1000, nil)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}

	filled, err := s.QueryEvents("BTCUSD", 0, 1000, []string{"OrderFilled"})
	if err != nil {
		t.Fatalf("QueryEvents filtered: %v", err)
	}
	if len(filled) != 1 || filled[0].EventType != "OrderFilled" {
		t.Fatalf("expected 1 OrderFilled event, got %#v", filled)
	}
}

func TestFlushRetriesOncePreservesBufferOnFailure(t *testing.T) {
	s := newTestStore(t)
	s.Close() // db handle closed: next write must fail both attempts

	s.AddCandle(eventbus.CandleEvent{Symbol: "X", ResolutionMs: 1000, OpenTimeMs: 0, Source: eventbus.SourceLive})
	s.buffers.flushCandles()

	s.buffers.bufferMu.Lock()
	defer s.buffers.bufferMu.Unlock()
	if len(s.buffers.candles) != 1 {
		t.Fatalf("expected failed batch preserved in buffer, got %d items", len(s.buffers.candles))
	}
}

func TestOpenCreatesSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.db")
	s, err := Open(DefaultConfig(path), metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if version != schemaVersion {
		t.Fatalf("expected version %d, got %d", schemaVersion, version)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected db file to exist: %v", err)
	}
}
