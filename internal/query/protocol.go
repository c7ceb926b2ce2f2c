// Package query implements the External Query Server: a websocket endpoint
// that pushes lifecycle events to every connected viewer and answers
// correlated request/response queries against the store and broker
// (spec §4.8, §6.3).
package query

import (
	"encoding/json"
	"time"

	"github.com/ndrandal/tradecore/internal/broker"
	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/store"
)

// envelope is the shape every inbound client request is parsed into before
// dispatch: data stays raw until the handler for Type knows how to decode it.
type envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// outMessage is the shape of every push and response message sent to a
// client. RequestID is omitted for push messages (omitempty).
type outMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunStart is pushed as a broadcast at engine start and to each new client
// on connect.
type RunStart struct {
	RunID           string  `json:"run_id"`
	TimestampISO    string  `json:"timestamp_iso"`
	StartingBalance float64 `json:"starting_balance,omitempty"`
}

// ProviderTick mirrors a TradePrintEvent for viewers.
type ProviderTick struct {
	Symbol       string `json:"symbol"`
	Price        float64 `json:"price"`
	TimestampISO string `json:"timestamp_iso"`
}

// OrderPlaced mirrors an OrderPlacedEvent for viewers.
type OrderPlaced struct {
	OrderID      uint64  `json:"order_id"`
	Symbol       string  `json:"symbol"`
	Qty          float64 `json:"qty"`
	Side         string  `json:"side"`
	LimitPrice   float64 `json:"limit_price"`
	Status       string  `json:"status"`
	TimestampISO string  `json:"timestamp_iso"`
	Ms           int64   `json:"ms"`
}

// OrderFilled mirrors an OrderFilledEvent for viewers.
type OrderFilled struct {
	OrderID      uint64  `json:"order_id"`
	Symbol       string  `json:"symbol"`
	FilledQty    float64 `json:"filled_qty"`
	FillPrice    float64 `json:"fill_price"`
	Side         string  `json:"side"`
	Status       string  `json:"status"`
	TimestampISO string  `json:"timestamp_iso"`
	Ms           int64   `json:"ms"`
}

// OrderRejected mirrors an OrderRejectedEvent for viewers.
type OrderRejected struct {
	OrderID      uint64  `json:"order_id"`
	Symbol       string  `json:"symbol"`
	Qty          float64 `json:"qty"`
	Side         string  `json:"side"`
	Reason       string  `json:"reason"`
	TimestampISO string  `json:"timestamp_iso"`
	Ms           int64   `json:"ms"`
}

// PositionUpdated mirrors a PositionUpdatedEvent for viewers.
type PositionUpdated struct {
	Symbol       string  `json:"symbol"`
	Qty          float64 `json:"qty"`
	AvgPrice     float64 `json:"avg_price"`
	TimestampISO string  `json:"timestamp_iso"`
}

// Candle mirrors a CandleEvent for viewers, when candle push is enabled.
type Candle struct {
	Symbol       string  `json:"symbol"`
	ResolutionMs int64   `json:"resolutionMs"`
	OpenTimeMs   int64   `json:"openTimeMs"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
}

func candleOf(c eventbus.CandleEvent) Candle {
	return Candle{
		Symbol: c.Symbol, ResolutionMs: c.ResolutionMs, OpenTimeMs: c.OpenTimeMs,
		Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
	}
}

// --- request payload shapes ---

type queryCandlesReq struct {
	Symbol       string `json:"symbol"`
	ResolutionMs int64  `json:"resolutionMs"`
	StartMs      int64  `json:"startMs"`
	EndMs        int64  `json:"endMs"`
	Limit        int    `json:"limit,omitempty"`
}

type queryCandlesResp struct {
	Symbol       string   `json:"symbol"`
	ResolutionMs int64    `json:"resolutionMs"`
	Candles      []Candle `json:"candles"`
	Count        int      `json:"count"`
	IsTruncated  bool     `json:"isTruncated"`
}

type queryEventsReq struct {
	Symbol     string   `json:"symbol"`
	StartMs    int64    `json:"startMs"`
	EndMs      int64    `json:"endMs"`
	EventTypes []string `json:"eventTypes,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

type eventOut struct {
	EventType   string `json:"eventType"`
	EventTimeMs int64  `json:"eventTimeMs"`
	Symbol      string `json:"symbol"`
	Source      string `json:"source"`
	DataJSON    string `json:"dataJson"`
}

func eventOutOf(e store.EventRecord) eventOut {
	return eventOut{EventType: e.EventType, EventTimeMs: e.EventTimeMs, Symbol: e.Symbol, Source: e.Source, DataJSON: e.PayloadJSON}
}

type queryEventsResp struct {
	Symbol      string     `json:"symbol"`
	Events      []eventOut `json:"events"`
	Count       int        `json:"count"`
	IsTruncated bool       `json:"isTruncated"`
}

type orderOut struct {
	ID              uint64  `json:"id"`
	Symbol          string  `json:"symbol"`
	Qty             float64 `json:"qty"`
	Side            string  `json:"side"`
	Status          string  `json:"status"`
	FilledQty       float64 `json:"filledQty"`
	FillPrice       float64 `json:"fillPrice"`
	RejectionReason string  `json:"rejectionReason,omitempty"`
	EventTimeMs     int64   `json:"eventTimeMs"`
}

func orderOutOf(o broker.Order) orderOut {
	return orderOut{
		ID: o.ID, Symbol: o.Symbol, Qty: o.Qty, Side: sideString(o.Side), Status: string(o.Status),
		FilledQty: o.FilledQty, FillPrice: o.FillPrice, RejectionReason: o.RejectionReason, EventTimeMs: o.EventTimeMs,
	}
}

type positionOut struct {
	Symbol   string  `json:"symbol"`
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avgPrice"`
}

func positionOutOf(p broker.Position) positionOut {
	return positionOut{Symbol: p.Symbol, Qty: p.Qty, AvgPrice: p.AvgPrice}
}

type defaultViewportResp struct {
	Symbol  string `json:"symbol"`
	StartMs int64  `json:"startMs"`
	EndMs   int64  `json:"endMs"`
}

func sideString(s eventbus.OrderSide) string {
	if s == eventbus.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func isoNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
