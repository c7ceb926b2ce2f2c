package strategy

import (
	"testing"

	"github.com/ndrandal/tradecore/internal/broker"
	"github.com/ndrandal/tradecore/internal/eventbus"
)

func TestMomentumBuysOnUptick(t *testing.T) {
	m := NewMomentum(1.0)

	m.OnPriceTick(PriceTick{Symbol: "BTCUSD", Price: 100})
	if got := m.GetTradeAction(); got != ActionNone {
		t.Fatalf("expected None on first tick, got %v", got)
	}

	m.OnPriceTick(PriceTick{Symbol: "BTCUSD", Price: 105})
	if got := m.GetTradeAction(); got != ActionBuy {
		t.Fatalf("expected Buy on uptick, got %v", got)
	}
}

func TestMomentumSellsOnDowntickAfterLong(t *testing.T) {
	m := NewMomentum(1.0)
	m.OnOrderFill(broker.Order{Side: eventbus.OrderSideBuy, FilledQty: 1.0})

	m.OnPriceTick(PriceTick{Symbol: "BTCUSD", Price: 100})
	m.OnPriceTick(PriceTick{Symbol: "BTCUSD", Price: 95})

	if got := m.GetTradeAction(); got != ActionSell {
		t.Fatalf("expected Sell on downtick while long, got %v", got)
	}
}

func TestMomentumTracksNetPosition(t *testing.T) {
	m := NewMomentum(1.0)
	m.OnOrderFill(broker.Order{Side: eventbus.OrderSideBuy, FilledQty: 2.0})
	m.OnOrderFill(broker.Order{Side: eventbus.OrderSideSell, FilledQty: 0.5})

	if got := m.GetNetPosition(); got != 1.5 {
		t.Fatalf("expected net position 1.5, got %v", got)
	}
}

func TestMomentumIgnoresZeroFill(t *testing.T) {
	m := NewMomentum(1.0)
	m.OnOrderFill(broker.Order{Side: eventbus.OrderSideBuy, FilledQty: 0})
	if got := m.GetNetPosition(); got != 0 {
		t.Fatalf("expected net position unchanged at 0, got %v", got)
	}
}
