package simadapter

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ndrandal/tradecore/internal/market"
)

// Config controls the reference adapter's price process and tick rate.
type Config struct {
	Seed         int64
	TickInterval time.Duration // wall-clock pace between trades, per symbol
	BaseVol      float64       // per-tick log-return volatility; 0 uses DefaultBaseVol
}

const DefaultBaseVol = 0.001

// symState is the per-symbol GBM price walk plus monotonic event-clock.
type symState struct {
	price    float64
	lastTime int64 // last emitted event_time_ms, strictly increasing
}

// Adapter is a deterministic, seedable trade generator. It implements
// market.Adapter. Event times are monotonic per instrument, satisfying the
// Provider's trust contract (spec §4.3). Event times come from the wall
// clock, and all symbol goroutines draw from one shared generator, so only
// a single symbol's price sequence is reproducible from the seed.
type Adapter struct {
	cfg Config
	rng *rng

	mu      sync.Mutex
	states  map[string]float64 // symbol -> base price, seeded via SetBasePrice
	syms    []string
	handler market.PrintHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a reference Adapter. cfg.Seed of 0 seeds from wall-clock.
func New(cfg Config) *Adapter {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 200 * time.Millisecond
	}
	if cfg.BaseVol <= 0 {
		cfg.BaseVol = DefaultBaseVol
	}
	return &Adapter{
		cfg:    cfg,
		rng:    newRNG(cfg.Seed),
		states: make(map[string]float64),
	}
}

// SetBasePrice seeds the starting price for symbol. Call before Start.
func (a *Adapter) SetBasePrice(symbol string, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states[symbol] = price
}

// SubscribeTrades adds symbols to the set this adapter emits. Symbols
// accumulate across calls, but the adapter keeps a single handler: the
// handler of the most recent call receives the trades of every subscribed
// symbol. Symbols added after Start are not emitted until the next Start.
func (a *Adapter) SubscribeTrades(symbols []string, handler market.PrintHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syms = append(a.syms, symbols...)
	a.handler = handler
	for _, s := range symbols {
		if _, ok := a.states[s]; !ok {
			a.states[s] = 100.0
		}
	}
}

// SubscribeTicks and SubscribeQuotes are optional capabilities this
// reference adapter does not implement; they no-op per spec §6.1.
func (a *Adapter) SubscribeTicks(symbols []string, handler market.PrintHandler)  {}
func (a *Adapter) SubscribeQuotes(symbols []string, handler market.PrintHandler) {}

// Start launches one goroutine per subscribed symbol, each emitting a trade
// print every TickInterval until Stop is called or duration elapses.
func (a *Adapter) Start(duration time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if duration > 0 {
		go func() {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			select {
			case <-timer.C:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	a.mu.Lock()
	syms := append([]string(nil), a.syms...)
	a.mu.Unlock()

	for _, sym := range syms {
		a.wg.Add(1)
		go a.run(ctx, sym)
	}
	return nil
}

// Stop halts all running symbol goroutines and waits for them to exit.
// Safe to call even if Start was never invoked.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Adapter) run(ctx context.Context, symbol string) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	state := &symState{price: a.basePrice(symbol)}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.emit(symbol, state)
		}
	}
}

func (a *Adapter) basePrice(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[symbol]
}

func (a *Adapter) emit(symbol string, state *symState) {
	z := a.rng.gaussian()
	logReturn := a.cfg.BaseVol * z
	state.price *= math.Exp(logReturn)
	if state.price <= 0 {
		state.price = 0.01
	}

	now := time.Now().UnixMilli()
	if now <= state.lastTime {
		now = state.lastTime + 1
	}
	state.lastTime = now

	side := byte('B')
	if z < 0 {
		side = 'S'
	}

	qty := 1 + a.rng.float64()*9 // 1..10 shares

	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler == nil {
		return
	}

	handler(market.Print{
		Symbol:      symbol,
		Price:       roundTo(state.price, 2),
		Qty:         roundTo(qty, 4),
		EventTimeMs: now,
		Side:        side,
		OrderType:   'M',
		Liquidity:   'T',
	})
}

// GetHistCandles returns no historical data: this reference adapter only
// emits live trades (spec §6.1 — optional, may return empty).
func (a *Adapter) GetHistCandles(symbol string, interval string, limit int) ([]market.Candle, error) {
	return nil, nil
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
