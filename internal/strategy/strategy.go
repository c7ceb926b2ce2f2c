// Package strategy defines the interface the engine drives per trade tick,
// and a simple reference implementation used by tests and the default
// binary when no other strategy is wired in.
package strategy

import "github.com/ndrandal/tradecore/internal/broker"

// Action is the trade decision a Strategy returns after observing a tick.
type Action int

const (
	ActionNone Action = iota
	ActionBuy
	ActionSell
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "Buy"
	case ActionSell:
		return "Sell"
	default:
		return "None"
	}
}

// PriceTick is what the engine hands to Strategy.OnPriceTick for every
// TradePrint it forwards.
type PriceTick struct {
	Symbol      string
	Price       float64
	Qty         float64
	EventTimeMs int64
}

// Strategy is driven single-threaded by the engine: OnPriceTick is always
// immediately followed by GetTradeAction for the same tick, and
// OnOrderFill is only called after a non-zero fill. Implementations must
// not assume concurrent access.
type Strategy interface {
	OnPriceTick(tick PriceTick)
	GetTradeAction() Action
	OnOrderFill(order broker.Order)
	// GetNetPosition reports the strategy's own view of position size; the
	// default reference implementation tracks it directly from fills.
	GetNetPosition() float64
}
