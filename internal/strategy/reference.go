package strategy

import (
	"github.com/ndrandal/tradecore/internal/broker"
	"github.com/ndrandal/tradecore/internal/eventbus"
)

// Momentum is a minimal reference Strategy: it buys on an up-tick and sells
// on a down-tick, flat by default, never holding more than one
// lot per symbol at a time. It exists for tests and as the engine's
// default when nothing else is wired in.
type Momentum struct {
	Qty float64

	lastPrice  map[string]float64
	netPos     float64
	pendingAct Action
}

// NewMomentum builds a Momentum strategy that trades Qty units per signal.
func NewMomentum(qty float64) *Momentum {
	return &Momentum{
		Qty:       qty,
		lastPrice: make(map[string]float64),
	}
}

func (m *Momentum) OnPriceTick(tick PriceTick) {
	prev, seen := m.lastPrice[tick.Symbol]
	m.lastPrice[tick.Symbol] = tick.Price

	switch {
	case !seen:
		m.pendingAct = ActionNone
	case tick.Price > prev && m.netPos <= 0:
		m.pendingAct = ActionBuy
	case tick.Price < prev && m.netPos > 0:
		m.pendingAct = ActionSell
	default:
		m.pendingAct = ActionNone
	}
}

func (m *Momentum) GetTradeAction() Action {
	return m.pendingAct
}

func (m *Momentum) OnOrderFill(order broker.Order) {
	if order.FilledQty <= 0 {
		return
	}
	switch order.Side {
	case eventbus.OrderSideBuy:
		m.netPos += order.FilledQty
	case eventbus.OrderSideSell:
		m.netPos -= order.FilledQty
	}
}

func (m *Momentum) GetNetPosition() float64 {
	return m.netPos
}
