// Package market aggregates one or more Adapters into a single stream of
// normalized trade prints published onto the event bus (spec §4.3, §6.1).
package market

import "time"

// Print is the normalized trade handed from an Adapter to the Provider.
// It carries no instrument id: the Provider registers the instrument (by
// symbol) and stamps the id before publishing.
type Print struct {
	Symbol      string
	Price       float64
	Qty         float64
	EventTimeMs int64
	Side        byte // 'B', 'S', or 0 for unknown
	OrderType   byte // 'M' market, 'L' limit, or 0 for unknown
	Liquidity   byte // 'M' maker, 'T' taker, or 0 for unknown
	Metadata    map[string]string
}

// PrintHandler receives normalized trades from an Adapter.
type PrintHandler func(Print)

// Candle is the shape an Adapter may optionally return historical bars as
// (spec §6.1 get_hist_candles). Adapters without historical data may return
// an empty slice.
type Candle struct {
	OpenTimeMs int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

// Adapter is the capability set the Provider drives (spec §6.1). A concrete
// adapter (exchange feed, file replay) is an external collaborator; only
// this interface is specified by the core. internal/market/simadapter
// provides a reference/test implementation.
type Adapter interface {
	// SubscribeTrades registers handler for the given symbols. Multiple
	// calls accumulate; handler is invoked for every matching trade.
	SubscribeTrades(symbols []string, handler PrintHandler)
	// SubscribeTicks and SubscribeQuotes are optional; a no-op
	// implementation satisfies the interface.
	SubscribeTicks(symbols []string, handler PrintHandler)
	SubscribeQuotes(symbols []string, handler PrintHandler)
	// Start begins emitting trades. duration of zero means "run until Stop".
	Start(duration time.Duration) error
	// Stop halts emission. Stop must be safe to call even if Start was
	// never called.
	Stop()
	// GetHistCandles returns up to limit historical candles for symbol at
	// the given interval name; an adapter with no historical data returns
	// an empty slice, never an error for "no data".
	GetHistCandles(symbol string, interval string, limit int) ([]Candle, error)
}
