package eventbus

import "time"

// TradePrintEvent carries a single normalized trade print (spec §3).
type TradePrintEvent struct {
	InstrumentID uint64
	Symbol       string
	Price        float64
	Qty          float64
	EventTimeMs  int64
	Side         TradeSide
	OrderType    TradeOrderType
	Liquidity    TradeLiquidity
	Metadata     map[string]string
}

func (TradePrintEvent) Topic() Topic { return TopicTradePrint }

// TradeSide mirrors Order side plus Unknown, for trade prints whose side
// cannot be inferred by the source adapter.
type TradeSide byte

const (
	SideUnknown TradeSide = iota
	SideBuy
	SideSell
)

// TradeOrderType classifies the order that generated a trade print.
type TradeOrderType byte

const (
	OrderTypeUnknown TradeOrderType = iota
	OrderTypeMarket
	OrderTypeLimit
)

// TradeLiquidity records which side of the trade added or removed liquidity.
type TradeLiquidity byte

const (
	LiquidityUnknown TradeLiquidity = iota
	LiquidityMaker
	LiquidityTaker
)

// OrderStatus is the broker's order lifecycle state (spec §4.4).
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusWorking         OrderStatus = "Working"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCanceled        OrderStatus = "Canceled"
	OrderStatusRejected        OrderStatus = "Rejected"
)

// Terminal reports whether status never transitions further.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderSide is Buy or Sell — unlike TradeSide, orders never carry Unknown.
type OrderSide byte

const (
	OrderSideBuy OrderSide = iota
	OrderSideSell
)

// OrderPlacedEvent is published the instant an order is assigned an id and
// moved to Working, strictly before any fill/reject event for that order.
type OrderPlacedEvent struct {
	RunID          string
	OrderID        uint64
	Symbol         string
	Qty            float64
	Side           OrderSide
	LimitPrice     float64
	SubmissionTime time.Time
	EventTimeMs    int64
}

func (OrderPlacedEvent) Topic() Topic { return TopicOrderPlaced }

// OrderFilledEvent is published when an order reaches Filled or
// PartiallyFilled.
type OrderFilledEvent struct {
	RunID       string
	OrderID     uint64
	Symbol      string
	FilledQty   float64
	FillPrice   float64
	Side        OrderSide
	Status      OrderStatus // Filled or PartiallyFilled
	EventTimeMs int64
}

func (OrderFilledEvent) Topic() Topic { return TopicOrderFilled }

// OrderRejectedEvent is published when an order cannot execute.
type OrderRejectedEvent struct {
	RunID       string
	OrderID     uint64
	Symbol      string
	Qty         float64
	Side        OrderSide
	Reason      string
	EventTimeMs int64
}

func (OrderRejectedEvent) Topic() Topic { return TopicOrderRejected }

// PositionUpdatedEvent is published on every fill that changes a position
// (spec §9 open question, resolved: emit on every position-changing fill).
type PositionUpdatedEvent struct {
	RunID    string
	Symbol   string
	Qty      float64
	AvgPrice float64
}

func (PositionUpdatedEvent) Topic() Topic { return TopicPositionUpdate }

// CandleEvent is published by the aggregator whenever a bucket is finalized.
type CandleEvent struct {
	Symbol       string
	ResolutionMs int64
	OpenTimeMs   int64
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	Source       CandleSource
}

func (CandleEvent) Topic() Topic { return TopicCandle }

// CandleSource tags the provenance of a candle: live trading or a replay.
type CandleSource string

const (
	SourceLive      CandleSource = "live"
	SourceBacktest  CandleSource = "backtest"
)
