package broker

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/eventbus"
)

type fixedPriceSource struct{ price float64 }

func (f fixedPriceSource) Price(symbol string) (float64, bool) { return f.price, true }

func newTestBroker(balance float64) (*Broker, *eventbus.Bus) {
	bus := eventbus.New(zerolog.Nop(), nil)
	b := New(balance, bus, fixedPriceSource{}, nil, zerolog.Nop(), "test-run")
	return b, bus
}

// TestBuyFillHappyPath covers spec §8 E1.
func TestBuyFillHappyPath(t *testing.T) {
	b, bus := newTestBroker(1_000_000)

	var placed, filled []eventbus.Event
	bus.Subscribe(eventbus.TopicOrderPlaced, func(e eventbus.Event) { placed = append(placed, e) })
	bus.Subscribe(eventbus.TopicOrderFilled, func(e eventbus.Event) { filled = append(filled, e) })

	placedOrder := b.PlaceLimitOrder(OrderRequest{Symbol: "BTCUSD", Qty: 0.01, Side: eventbus.OrderSideBuy}, 600.00, 1)
	if placedOrder.FilledQty != 0.01 {
		t.Fatalf("FilledQty = %v, want 0.01", placedOrder.FilledQty)
	}
	if len(placed) != 1 || len(filled) != 1 {
		t.Fatalf("expected 1 OrderPlaced and 1 OrderFilled, got %d/%d", len(placed), len(filled))
	}

	fe := filled[0].(eventbus.OrderFilledEvent)
	if fe.FillPrice != 600.00 || fe.FilledQty != 0.01 {
		t.Fatalf("unexpected fill event: %+v", fe)
	}

	if got := b.GetBalance(); got != 999_994.00 {
		t.Fatalf("balance = %v, want 999994.00", got)
	}

	positions := b.GetPositions()
	if len(positions) != 1 || positions[0].Qty != 0.01 || positions[0].AvgPrice != 600.00 {
		t.Fatalf("unexpected position: %+v", positions)
	}
}

// TestInsufficientBalanceRejection covers spec §8 E2.
func TestInsufficientBalanceRejection(t *testing.T) {
	b, bus := newTestBroker(100)

	var rejected []eventbus.OrderRejectedEvent
	bus.Subscribe(eventbus.TopicOrderRejected, func(e eventbus.Event) {
		rejected = append(rejected, e.(eventbus.OrderRejectedEvent))
	})

	placedOrder := b.PlaceLimitOrder(OrderRequest{Symbol: "BTCUSD", Qty: 1.0, Side: eventbus.OrderSideBuy}, 50_000, 1)
	if placedOrder.FilledQty != 0 {
		t.Fatalf("FilledQty = %v, want 0", placedOrder.FilledQty)
	}
	if len(rejected) != 1 || rejected[0].Reason != "Insufficient balance" {
		t.Fatalf("unexpected rejections: %+v", rejected)
	}
	if got := b.GetBalance(); got != 100 {
		t.Fatalf("balance changed on rejection: %v", got)
	}
}

// TestSellWithNoPositionRejection covers spec §8 E3.
func TestSellWithNoPositionRejection(t *testing.T) {
	b, bus := newTestBroker(1_000_000)

	var rejected []eventbus.OrderRejectedEvent
	bus.Subscribe(eventbus.TopicOrderRejected, func(e eventbus.Event) {
		rejected = append(rejected, e.(eventbus.OrderRejectedEvent))
	})

	placedOrder := b.PlaceLimitOrder(OrderRequest{Symbol: "BTCUSD", Qty: 1.0, Side: eventbus.OrderSideSell}, 50_000, 1)
	if placedOrder.FilledQty != 0 {
		t.Fatalf("FilledQty = %v, want 0", placedOrder.FilledQty)
	}
	if len(rejected) != 1 || rejected[0].Reason != "No position to sell" {
		t.Fatalf("unexpected rejections: %+v", rejected)
	}
}

// TestSellLiquidatesFullPosition covers spec §8 universal invariant 4.
func TestSellLiquidatesFullPosition(t *testing.T) {
	b, _ := newTestBroker(1_000_000)

	b.PlaceLimitOrder(OrderRequest{Symbol: "BTCUSD", Qty: 1.0, Side: eventbus.OrderSideBuy}, 100, 1)
	balanceAfterBuy := b.GetBalance()

	placedOrder := b.PlaceLimitOrder(OrderRequest{Symbol: "BTCUSD", Qty: 1.0, Side: eventbus.OrderSideSell}, 150, 2)
	if placedOrder.FilledQty != 1.0 {
		t.Fatalf("FilledQty = %v, want 1.0", placedOrder.FilledQty)
	}

	positions := b.GetPositions()
	if len(positions) != 1 || positions[0].Qty != 0 {
		t.Fatalf("position not fully liquidated: %+v", positions)
	}

	wantBalance := balanceAfterBuy + 1.0*150
	if got := b.GetBalance(); got != wantBalance {
		t.Fatalf("balance = %v, want %v", got, wantBalance)
	}
}

// TestOrderPlacedBeforeFilled covers spec §8 universal invariant 1.
func TestOrderPlacedBeforeFilled(t *testing.T) {
	b, bus := newTestBroker(1_000_000)

	var order []string
	bus.Subscribe(eventbus.TopicOrderPlaced, func(e eventbus.Event) { order = append(order, "placed") })
	bus.Subscribe(eventbus.TopicOrderFilled, func(e eventbus.Event) { order = append(order, "filled") })

	b.PlaceLimitOrder(OrderRequest{Symbol: "BTCUSD", Qty: 0.01, Side: eventbus.OrderSideBuy}, 600, 1)

	if len(order) != 2 || order[0] != "placed" || order[1] != "filled" {
		t.Fatalf("unexpected event order: %v", order)
	}
}

// TestPlaceLimitOrderReturnsItsOwnOrder covers spec §3 order id invariant:
// the order returned by PlaceLimitOrder must be the one this call placed,
// not whatever GetOrders happens to return last.
func TestPlaceLimitOrderReturnsItsOwnOrder(t *testing.T) {
	b, _ := newTestBroker(1_000_000)

	first := b.PlaceLimitOrder(OrderRequest{Symbol: "BTCUSD", Qty: 0.01, Side: eventbus.OrderSideBuy}, 100, 1)
	second := b.PlaceLimitOrder(OrderRequest{Symbol: "BTCUSD", Qty: 0.01, Side: eventbus.OrderSideBuy}, 100, 2)

	if first.ID == second.ID {
		t.Fatalf("expected distinct order ids, got %d twice", first.ID)
	}
	if first.ID >= second.ID {
		t.Fatalf("expected first.ID < second.ID, got %d >= %d", first.ID, second.ID)
	}
	if first.EventTimeMs != 1 || second.EventTimeMs != 2 {
		t.Fatalf("returned order does not match its own submission: first=%+v second=%+v", first, second)
	}
}

// TestOrderIDsMonotonic covers spec §3 order id invariant.
func TestOrderIDsMonotonic(t *testing.T) {
	b, _ := newTestBroker(1_000_000)

	var prev uint64
	for i := 0; i < 50; i++ {
		b.PlaceLimitOrder(OrderRequest{Symbol: "X", Qty: 0, Side: eventbus.OrderSideBuy}, 1, int64(i))
		orders := b.GetOrders()
		last := orders[len(orders)-1]
		if last.ID <= prev {
			t.Fatalf("order id not monotonic: %d <= %d", last.ID, prev)
		}
		prev = last.ID
	}
}
