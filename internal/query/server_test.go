package query

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/broker"
	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/metrics"
	"github.com/ndrandal/tradecore/internal/store"
)

type fixedPriceSource struct{ price float64 }

func (f fixedPriceSource) Price(string) (float64, bool) { return f.price, true }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bus := eventbus.New(zerolog.Nop(), nil)
	m := metrics.New(prometheus.NewRegistry())

	dir := t.TempDir()
	st, err := store.Open(store.DefaultConfig(filepath.Join(dir, "q.db")), m, zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	br := broker.New(1_000_000, bus, fixedPriceSource{price: 100}, m, zerolog.Nop(), "run-1")

	s := New(bus, st, br, m, Config{DefaultSymbol: "BTCUSD"}, zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func TestUnknownRequestTypePreservesRequestID(t *testing.T) {
	s := newTestServer(t)
	resp := s.handleRequest(envelope{Type: "Bogus", RequestID: "req-1"})
	if resp.RequestID != "req-1" {
		t.Fatalf("expected request_id preserved, got %q", resp.RequestID)
	}
	if resp.Error == "" {
		t.Fatalf("expected error set for unknown type")
	}
}

func TestQueryDefaultViewportNoDataYet(t *testing.T) {
	s := newTestServer(t)
	resp := s.handleRequest(envelope{Type: "QueryDefaultViewport", RequestID: "req-2"})
	if resp.Error != "NoDataYet" {
		t.Fatalf("expected NoDataYet, got %q / %#v", resp.Error, resp.Data)
	}
}

func TestQueryDefaultViewportAfterTrade(t *testing.T) {
	s := newTestServer(t)
	s.bus.Publish(eventbus.TradePrintEvent{Symbol: "BTCUSD", Price: 100, Qty: 1, EventTimeMs: 10_000_000})

	resp := s.handleRequest(envelope{Type: "QueryDefaultViewport", RequestID: "req-3"})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	vp, ok := resp.Data.(defaultViewportResp)
	if !ok {
		t.Fatalf("expected defaultViewportResp, got %T", resp.Data)
	}
	if vp.EndMs != 10_000_000 {
		t.Fatalf("expected endMs 10000000, got %d", vp.EndMs)
	}
}

func TestQueryOrdersReflectsBrokerState(t *testing.T) {
	s := newTestServer(t)
	s.broker.PlaceLimitOrder(broker.OrderRequest{Symbol: "BTCUSD", Qty: 0.01, Side: eventbus.OrderSideBuy}, 600, 1)

	resp := s.handleRequest(envelope{Type: "QueryOrders", RequestID: "req-4"})
	orders, ok := resp.Data.([]orderOut)
	if !ok {
		t.Fatalf("expected []orderOut, got %T", resp.Data)
	}
	if len(orders) != 1 || orders[0].Status != "Filled" {
		t.Fatalf("expected one filled order, got %#v", orders)
	}
}

// TestRecordDropExportsMetric covers the SPEC_FULL.md supplement that the
// push-drop counter is exported via the metrics package, not just held on
// the client in memory.
func TestRecordDropExportsMetric(t *testing.T) {
	s := newTestServer(t)

	before := testutil.ToFloat64(s.metrics.ClientsDropped.WithLabelValues("ProviderTick"))
	s.recordDrop("ProviderTick")
	after := testutil.ToFloat64(s.metrics.ClientsDropped.WithLabelValues("ProviderTick"))

	if after != before+1 {
		t.Fatalf("ClientsDropped did not increment: before=%v after=%v", before, after)
	}
}

func TestQueryCandlesRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.store.AddCandle(eventbus.CandleEvent{Symbol: "BTCUSD", ResolutionMs: 1000, OpenTimeMs: 0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Source: eventbus.SourceLive})
	s.store.FlushAll()

	reqData, _ := json.Marshal(queryCandlesReq{Symbol: "BTCUSD", ResolutionMs: 1000, StartMs: 0, EndMs: 1000})
	resp := s.handleRequest(envelope{Type: "QueryCandles", RequestID: "req-5", Data: reqData})
	out, ok := resp.Data.(queryCandlesResp)
	if !ok {
		t.Fatalf("expected queryCandlesResp, got %T", resp.Data)
	}
	if out.Count != 1 {
		t.Fatalf("expected 1 candle, got %d", out.Count)
	}
}
