// Package engine wires the bus, instrument registry, market provider,
// broker, candle aggregator, store, and query server into a single run,
// and drives the strategy↔broker submission loop (spec §4.5, §9).
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/broker"
	"github.com/ndrandal/tradecore/internal/candle"
	"github.com/ndrandal/tradecore/internal/config"
	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/instrument"
	"github.com/ndrandal/tradecore/internal/market"
	"github.com/ndrandal/tradecore/internal/market/simadapter"
	"github.com/ndrandal/tradecore/internal/metrics"
	"github.com/ndrandal/tradecore/internal/query"
	"github.com/ndrandal/tradecore/internal/store"
	"github.com/ndrandal/tradecore/internal/strategy"
)

// Engine owns every long-lived component for a single run and is the only
// holder of their lifetimes; every other component receives a non-owning
// reference (spec §9 cyclic-reference note).
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	bus      *eventbus.Bus
	instr    *instrument.Registry
	prices   *lastPriceTracker
	broker   *broker.Broker
	provider *market.Provider
	agg      *candle.Aggregator
	store    *store.Store
	query    *query.Server
	strategy strategy.Strategy
	events   *eventPersister

	runID    string
	shutdown atomic.Bool
}

// New wires every component. The caller owns strat's lifetime conceptually
// but the Engine drives every call into it.
func New(cfg *config.Config, log zerolog.Logger, m *metrics.Registry, strat strategy.Strategy) (*Engine, error) {
	bus := eventbus.New(log, func(topic eventbus.Topic) {
		if m != nil {
			m.BusErrors.WithLabelValues(string(topic)).Inc()
		}
	})

	instr := instrument.New()
	if cfg.InstrumentSeedPath != "" {
		if n, err := instr.LoadSeedFile(cfg.InstrumentSeedPath); err != nil {
			log.Warn().Err(err).Str("path", cfg.InstrumentSeedPath).Msg("instrument seed file not loaded")
		} else {
			log.Info().Int("count", n).Msg("instrument registry seeded")
		}
	}

	st, err := store.Open(store.Config{
		Path:             cfg.StorePath,
		CandleBufferSize: cfg.CandleBufferSize,
		EventBufferSize:  cfg.EventBufferSize,
		CandleCacheSize:  cfg.CandleCacheSize,
		EventCacheSize:   cfg.EventCacheSize,
		FlushInterval:    cfg.FlushInterval,
	}, m, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	runID := uuid.NewString()

	prices := newLastPriceTracker()
	br := broker.New(cfg.StartingBalance, bus, prices, m, log, runID)

	provider := market.New(bus, instr, log)
	adapter := simadapter.New(simadapter.Config{
		Seed:         cfg.Seed,
		TickInterval: cfg.TickInterval,
		BaseVol:      cfg.BaseVol,
	})
	provider.Attach(adapter)

	agg := candle.New(bus, st, cfg.CandleResolutionMs, eventbus.SourceLive, log)
	events := newEventPersister(bus, st, string(eventbus.SourceLive), log)

	qs := query.New(bus, st, br, m, query.Config{
		DefaultSymbol:    cfg.DefaultViewportSymbol,
		QueryTimeout:     cfg.QueryTimeout,
		PushCandles:      cfg.PushCandles,
		CandleResolution: cfg.CandleResolutionMs,
	}, log)
	qs.SetRun(runID, cfg.StartingBalance)

	e := &Engine{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		instr:    instr,
		prices:   prices,
		broker:   br,
		provider: provider,
		agg:      agg,
		store:    st,
		query:    qs,
		strategy: strat,
		events:   events,
		runID:    runID,
	}

	bus.Subscribe(eventbus.TopicTradePrint, e.onTick)

	return e, nil
}

// RunID returns the identifier minted for this run (spec §8 E6).
func (e *Engine) RunID() string { return e.runID }

// QueryServer exposes the websocket handler for wiring into an HTTP mux.
func (e *Engine) QueryServer() *query.Server { return e.query }

// RequestShutdown sets the cooperative shutdown flag observed by Run's loop
// (spec §9 "global run flag").
func (e *Engine) RequestShutdown() {
	e.shutdown.Store(true)
}

// Run starts every component, drives the run loop until shutdown is
// requested or cfg.RunDuration elapses, then tears everything down in
// order (spec §4.5).
func (e *Engine) Run(ctx context.Context) error {
	flushCtx, cancelFlush := context.WithCancel(ctx)
	defer cancelFlush()
	e.store.StartFlusher(flushCtx)

	e.provider.SubscribeTrades(e.cfg.DefaultSymbols)
	e.provider.StartAll()

	e.query.BroadcastRunStart()
	e.log.Info().Str("run_id", e.runID).Strs("symbols", e.cfg.DefaultSymbols).Msg("engine started")

	pollInterval := time.Duration(e.cfg.ShutdownPollMs) * time.Millisecond
	if pollInterval <= 0 || pollInterval > 100*time.Millisecond {
		pollInterval = 100 * time.Millisecond
	}

	var deadline time.Time
	if e.cfg.RunDuration > 0 {
		deadline = time.Now().Add(e.cfg.RunDuration)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

runLoop:
	for {
		select {
		case <-ctx.Done():
			break runLoop
		case <-ticker.C:
			if e.shutdown.Load() {
				break runLoop
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				break runLoop
			}
		}
	}

	e.shutdownSequence()
	return nil
}

// shutdownSequence stops adapters, flushes the aggregator, flushes the
// store, and closes the query server, in that order (spec §4.5).
func (e *Engine) shutdownSequence() {
	e.log.Info().Str("run_id", e.runID).Msg("engine shutting down")

	e.provider.StopAll()
	e.agg.FlushPendingData()
	e.store.FlushAll()
	e.query.Close()
	if err := e.store.Close(); err != nil {
		e.log.Error().Err(err).Msg("store close failed")
	}
}

// onTick implements the per-trade steps of spec §4.5: forward to strategy,
// poll for an action, submit an order, and notify on fill.
func (e *Engine) onTick(evt eventbus.Event) {
	te := evt.(eventbus.TradePrintEvent)
	e.prices.update(te.Symbol, te.Price)

	if e.strategy == nil {
		return
	}

	e.strategy.OnPriceTick(strategy.PriceTick{
		Symbol:      te.Symbol,
		Price:       te.Price,
		Qty:         te.Qty,
		EventTimeMs: te.EventTimeMs,
	})

	action := e.strategy.GetTradeAction()
	if action == strategy.ActionNone {
		return
	}

	side := eventbus.OrderSideBuy
	if action == strategy.ActionSell {
		side = eventbus.OrderSideSell
	}

	placedOrder := e.broker.PlaceLimitOrder(broker.OrderRequest{
		Symbol: te.Symbol,
		Qty:    e.cfg.OrderQty,
		Side:   side,
	}, te.Price, te.EventTimeMs)

	if placedOrder.FilledQty <= 0 {
		return
	}

	e.strategy.OnOrderFill(placedOrder)
}
