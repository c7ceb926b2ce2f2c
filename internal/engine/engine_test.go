package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/config"
	"github.com/ndrandal/tradecore/internal/metrics"
	"github.com/ndrandal/tradecore/internal/strategy"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Seed:               1,
		RunDuration:        150 * time.Millisecond,
		StartingBalance:    1_000_000,
		OrderQty:           0.01,
		DefaultSymbols:     []string{"BTCUSD"},
		QueryTimeout:       2 * time.Minute,
		ShutdownPollMs:     10,
		TickInterval:       10 * time.Millisecond,
		BaseVol:            0.01,
		CandleResolutionMs: 1000,
		PushCandles:        true,
		StorePath:          filepath.Join(dir, "engine.db"),
		CandleBufferSize:   1000,
		EventBufferSize:    1000,
		CandleCacheSize:    10,
		EventCacheSize:     10,
		FlushInterval:      time.Second,
		DefaultViewportSymbol: "BTCUSD",
	}
}

func TestEngineRunsAndShutsDownCleanly(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New(prometheus.NewRegistry())
	strat := strategy.NewMomentum(0.01)

	e, err := New(cfg, zerolog.Nop(), m, strat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if e.RunID() == "" {
		t.Fatalf("expected non-empty run id")
	}
}

// TestEngineMultiSymbolRunDoesNotRace drives two symbols concurrently, each
// on its own adapter goroutine (spec §4.3). The bus is required to
// serialize handler invocation (spec §5), so the strategy's unsynchronized
// fields must never be touched concurrently even though two TradePrint
// producers run in parallel. Run with -race to catch a regression.
func TestEngineMultiSymbolRunDoesNotRace(t *testing.T) {
	cfg := testConfig(t)
	cfg.DefaultSymbols = []string{"BTCUSD", "ETHUSD"}
	cfg.TickInterval = 2 * time.Millisecond
	cfg.RunDuration = 200 * time.Millisecond

	m := metrics.New(prometheus.NewRegistry())
	strat := strategy.NewMomentum(0.01)

	e, err := New(cfg, zerolog.Nop(), m, strat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestEngineRequestShutdownStopsLoopEarly(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunDuration = 10 * time.Second // would hang the test if shutdown is ignored
	m := metrics.New(prometheus.NewRegistry())
	strat := strategy.NewMomentum(0.01)

	e, err := New(cfg, zerolog.Nop(), m, strat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.Run(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	e.RequestShutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after RequestShutdown")
	}
}
