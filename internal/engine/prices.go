package engine

import "sync"

// lastPriceTracker satisfies broker.PriceSource by remembering the most
// recent TradePrint price per symbol.
type lastPriceTracker struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func newLastPriceTracker() *lastPriceTracker {
	return &lastPriceTracker{prices: make(map[string]float64)}
}

func (t *lastPriceTracker) update(symbol string, price float64) {
	t.mu.Lock()
	t.prices[symbol] = price
	t.mu.Unlock()
}

func (t *lastPriceTracker) Price(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[symbol]
	return p, ok
}
