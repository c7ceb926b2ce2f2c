// Package broker implements the order lifecycle state machine: cash
// balance, per-symbol positions, and order submission (spec §4.4).
package broker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/metrics"
)

// PriceSource supplies the current market price for a symbol, used by
// place_market_order. The engine wires this to the last TradePrint price
// per symbol.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

// Order is a single order's full lifecycle record (spec §3). Terminal
// statuses never transition further. A filled buy has FilledQty == Qty; a
// filled sell liquidates the whole long position, so its FilledQty is the
// position size and can exceed Qty.
type Order struct {
	ID               uint64
	Symbol           string
	Qty              float64
	Side             eventbus.OrderSide
	Status           eventbus.OrderStatus
	FilledQty        float64
	FillPrice        float64
	RejectionReason  string
	SubmissionTime   time.Time
	EventTimeMs      int64
}

// Position is the broker's per-symbol holding. Qty is signed: positive is
// long, negative is short. This reference broker only ever produces
// non-negative Qty, since sells fully liquidate rather than go short
// (spec §4.4), but the field stays signed to match spec §3's data model.
type Position struct {
	Symbol   string
	Qty      float64
	AvgPrice float64
}

// Broker owns cash, positions, and the order table exclusively. All state
// mutations for a single order submission are atomic with respect to other
// broker calls, enforced by mu.
type Broker struct {
	mu      sync.Mutex
	balance float64
	positions map[string]*Position
	orders    map[uint64]*Order
	nextOrderID atomic.Uint64

	bus     *eventbus.Bus
	prices  PriceSource
	metrics *metrics.Registry
	log     zerolog.Logger
	runID   string
}

// New creates a Broker with the given starting cash balance.
func New(startingBalance float64, bus *eventbus.Bus, prices PriceSource, m *metrics.Registry, log zerolog.Logger, runID string) *Broker {
	return &Broker{
		balance:   startingBalance,
		positions: make(map[string]*Position),
		orders:    make(map[uint64]*Order),
		bus:       bus,
		prices:    prices,
		metrics:   m,
		log:       log,
		runID:     runID,
	}
}

// OrderRequest is the caller-supplied intent for a new order; ID, Status,
// and the fill fields are assigned by the broker.
type OrderRequest struct {
	Symbol string
	Qty    float64
	Side   eventbus.OrderSide
}

// PlaceMarketOrder executes req at the current market price obtained from
// the broker's PriceSource. Completes synchronously within this call and
// returns the resulting order, in whatever terminal state it reached
// (Filled or Rejected) — never the caller's prior order, and never another
// concurrent caller's (spec §3 order identity).
func (b *Broker) PlaceMarketOrder(req OrderRequest) Order {
	price, ok := b.prices.Price(req.Symbol)
	if !ok {
		price = 0
	}
	return b.submit(req, price, time.Now().UnixMilli())
}

// PlaceLimitOrder executes req iff (Buy and market <= limitPrice) or (Sell
// and market >= limitPrice). The reference implementation treats
// market == limitPrice, so every in-budget limit order fills deterministically
// at submission (spec §9 open question, resolution: simple fill-at-limit
// model; no working order book is implemented by this core). Returns the
// resulting order directly; callers must not rediscover it via GetOrders,
// which can race against other submitters.
func (b *Broker) PlaceLimitOrder(req OrderRequest, limitPrice float64, eventTimeMs int64) Order {
	return b.submit(req, limitPrice, eventTimeMs)
}

// submit assigns an id, publishes OrderPlaced, then evaluates execution at
// price. It holds the broker mutex across the entire submission so that no
// other broker call interleaves with this one's mutations.
func (b *Broker) submit(req OrderRequest, price float64, eventTimeMs int64) Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextOrderID.Add(1)
	order := &Order{
		ID:             id,
		Symbol:         req.Symbol,
		Qty:            req.Qty,
		Side:           req.Side,
		Status:         eventbus.OrderStatusWorking,
		SubmissionTime: time.Now(),
		EventTimeMs:    eventTimeMs,
	}
	b.orders[id] = order

	b.bus.Publish(eventbus.OrderPlacedEvent{
		RunID:          b.runID,
		OrderID:        id,
		Symbol:         req.Symbol,
		Qty:            req.Qty,
		Side:           req.Side,
		LimitPrice:     price,
		SubmissionTime: order.SubmissionTime,
		EventTimeMs:    eventTimeMs,
	})

	switch req.Side {
	case eventbus.OrderSideBuy:
		return b.executeBuy(order, price)
	default:
		return b.executeSell(order, price)
	}
}

func (b *Broker) executeBuy(order *Order, price float64) Order {
	cost := order.Qty * price
	if b.balance < cost {
		b.reject(order, "Insufficient balance")
		return *order
	}

	b.balance -= cost

	pos, ok := b.positions[order.Symbol]
	if !ok {
		pos = &Position{Symbol: order.Symbol}
		b.positions[order.Symbol] = pos
	}
	newQty := pos.Qty + order.Qty
	if sameSign(pos.Qty, newQty) || pos.Qty == 0 {
		pos.AvgPrice = (pos.Qty*pos.AvgPrice + order.Qty*price) / newQty
	} else {
		// position-closing/reversing fill: avg resets to this fill's price
		pos.AvgPrice = price
	}
	pos.Qty = newQty

	order.Status = eventbus.OrderStatusFilled
	order.FilledQty = order.Qty
	order.FillPrice = price

	b.bus.Publish(eventbus.OrderFilledEvent{
		RunID:       b.runID,
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		FilledQty:   order.FilledQty,
		FillPrice:   price,
		Side:        order.Side,
		Status:      order.Status,
		EventTimeMs: order.EventTimeMs,
	})
	b.bus.Publish(eventbus.PositionUpdatedEvent{
		RunID:    b.runID,
		Symbol:   pos.Symbol,
		Qty:      pos.Qty,
		AvgPrice: pos.AvgPrice,
	})

	b.recordMetric("Filled", "Buy")
	return *order
}

func (b *Broker) executeSell(order *Order, price float64) Order {
	pos, ok := b.positions[order.Symbol]
	if !ok || pos.Qty <= 0 {
		b.reject(order, "No position to sell")
		return *order
	}

	qtyToFill := pos.Qty
	b.balance += qtyToFill * price
	pos.Qty = 0
	pos.AvgPrice = 0

	order.Status = eventbus.OrderStatusFilled
	order.FilledQty = qtyToFill
	order.FillPrice = price

	b.bus.Publish(eventbus.OrderFilledEvent{
		RunID:       b.runID,
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		FilledQty:   order.FilledQty,
		FillPrice:   price,
		Side:        order.Side,
		Status:      order.Status,
		EventTimeMs: order.EventTimeMs,
	})
	b.bus.Publish(eventbus.PositionUpdatedEvent{
		RunID:    b.runID,
		Symbol:   pos.Symbol,
		Qty:      pos.Qty,
		AvgPrice: pos.AvgPrice,
	})

	b.recordMetric("Filled", "Sell")
	return *order
}

func (b *Broker) reject(order *Order, reason string) {
	order.Status = eventbus.OrderStatusRejected
	order.RejectionReason = reason

	side := "Buy"
	if order.Side == eventbus.OrderSideSell {
		side = "Sell"
	}

	b.bus.Publish(eventbus.OrderRejectedEvent{
		RunID:       b.runID,
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		Qty:         order.Qty,
		Side:        order.Side,
		Reason:      reason,
		EventTimeMs: order.EventTimeMs,
	})

	b.log.Warn().Uint64("order_id", order.ID).Str("reason", reason).Msg("order rejected")
	b.recordMetric("Rejected", side)
}

func (b *Broker) recordMetric(status, side string) {
	if b.metrics == nil {
		return
	}
	b.metrics.OrdersTotal.WithLabelValues(status, side).Inc()
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return true
	}
	return (a > 0) == (b > 0)
}

// GetBalance returns the current cash balance.
func (b *Broker) GetBalance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// GetPositions returns a snapshot of all non-zero and zero positions ever
// touched. Positions are owned exclusively by the broker; callers receive
// copies.
func (b *Broker) GetPositions() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}

// GetOrders returns a snapshot of every order submitted this run, ordered
// by id.
func (b *Broker) GetOrders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
