package query

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/broker"
	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/metrics"
	"github.com/ndrandal/tradecore/internal/store"
)

const sendBufferSize = 256

// DefaultQueryTimeout is the soft ceiling on how long a single
// request/response query may run before the server gives up and answers
// with a timeout error (spec §5 "server-enforced soft ceiling").
const DefaultQueryTimeout = 2 * time.Minute

// Config controls the server's default viewport symbol and query ceiling.
type Config struct {
	DefaultSymbol   string
	QueryTimeout    time.Duration
	PushCandles     bool
	CandleResolution int64
}

// Server accepts viewer connections, pushes lifecycle events to all of
// them, and answers correlated request/response queries against store and
// broker (spec §4.8).
type Server struct {
	mu      sync.RWMutex
	clients map[uint64]*client

	bus     *eventbus.Bus
	store   *store.Store
	broker  *broker.Broker
	metrics *metrics.Registry
	cfg     Config
	log     zerolog.Logger

	runID           string
	startingBalance float64
	lastEventMs     map[string]int64

	subIDs []subRef
}

type subRef struct {
	topic eventbus.Topic
	id    eventbus.SubscriberID
}

// New creates a Server and subscribes it to the push topics named in
// spec §4.8: TradePrint, OrderPlaced, OrderFilled, OrderRejected,
// PositionUpdated, and (if cfg.PushCandles) Candle. m may be nil, in which
// case dropped-message counts are still tracked per-client but not exported.
func New(bus *eventbus.Bus, st *store.Store, br *broker.Broker, m *metrics.Registry, cfg Config, log zerolog.Logger) *Server {
	s := &Server{
		clients:     make(map[uint64]*client),
		bus:         bus,
		store:       st,
		broker:      br,
		metrics:     m,
		cfg:         cfg,
		log:         log,
		lastEventMs: make(map[string]int64),
	}
	if s.cfg.QueryTimeout <= 0 {
		s.cfg.QueryTimeout = DefaultQueryTimeout
	}

	s.subscribe(eventbus.TopicTradePrint, func(evt eventbus.Event) {
		e := evt.(eventbus.TradePrintEvent)
		s.mu.Lock()
		if e.EventTimeMs > s.lastEventMs[e.Symbol] {
			s.lastEventMs[e.Symbol] = e.EventTimeMs
		}
		s.mu.Unlock()
		s.broadcast(outMessage{Type: "ProviderTick", Data: ProviderTick{
			Symbol: e.Symbol, Price: e.Price, TimestampISO: msToISO(e.EventTimeMs),
		}})
	})
	s.subscribe(eventbus.TopicOrderPlaced, func(evt eventbus.Event) {
		e := evt.(eventbus.OrderPlacedEvent)
		s.broadcast(outMessage{Type: "OrderPlaced", Data: OrderPlaced{
			OrderID: e.OrderID, Symbol: e.Symbol, Qty: e.Qty, Side: sideString(e.Side),
			LimitPrice: e.LimitPrice, Status: "WORKING",
			TimestampISO: msToISO(e.EventTimeMs), Ms: e.EventTimeMs,
		}})
	})
	s.subscribe(eventbus.TopicOrderFilled, func(evt eventbus.Event) {
		e := evt.(eventbus.OrderFilledEvent)
		status := "FILLED"
		if e.Status == eventbus.OrderStatusPartiallyFilled {
			status = "PARTIALLY_FILLED"
		}
		s.broadcast(outMessage{Type: "OrderFilled", Data: OrderFilled{
			OrderID: e.OrderID, Symbol: e.Symbol, FilledQty: e.FilledQty, FillPrice: e.FillPrice,
			Side: sideString(e.Side), Status: status,
			TimestampISO: msToISO(e.EventTimeMs), Ms: e.EventTimeMs,
		}})
	})
	s.subscribe(eventbus.TopicOrderRejected, func(evt eventbus.Event) {
		e := evt.(eventbus.OrderRejectedEvent)
		s.broadcast(outMessage{Type: "OrderRejected", Data: OrderRejected{
			OrderID: e.OrderID, Symbol: e.Symbol, Qty: e.Qty, Side: sideString(e.Side),
			Reason: e.Reason, TimestampISO: msToISO(e.EventTimeMs), Ms: e.EventTimeMs,
		}})
	})
	s.subscribe(eventbus.TopicPositionUpdate, func(evt eventbus.Event) {
		e := evt.(eventbus.PositionUpdatedEvent)
		s.broadcast(outMessage{Type: "PositionUpdated", Data: PositionUpdated{
			Symbol: e.Symbol, Qty: e.Qty, AvgPrice: e.AvgPrice, TimestampISO: isoNow(),
		}})
	})
	if cfg.PushCandles {
		s.subscribe(eventbus.TopicCandle, func(evt eventbus.Event) {
			e := evt.(eventbus.CandleEvent)
			s.broadcast(outMessage{Type: "Candle", Data: candleOf(e)})
		})
	}

	return s
}

func (s *Server) subscribe(topic eventbus.Topic, h eventbus.Handler) {
	id := s.bus.Subscribe(topic, h)
	s.subIDs = append(s.subIDs, subRef{topic: topic, id: id})
}

// Close unsubscribes from the bus and drops every connected client.
func (s *Server) Close() {
	for _, r := range s.subIDs {
		s.bus.Unsubscribe(r.topic, r.id)
	}
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[uint64]*client)
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// SetRun records the current run identity, used for RunStart broadcasts and
// for answering new connections. Call this once at engine start and again
// on every restart (spec §8 E6).
func (s *Server) SetRun(runID string, startingBalance float64) {
	s.mu.Lock()
	s.runID = runID
	s.startingBalance = startingBalance
	s.mu.Unlock()
}

// BroadcastRunStart sends RunStart to every currently connected client. The
// engine calls this once at (re)start.
func (s *Server) BroadcastRunStart() {
	s.mu.RLock()
	runID, bal := s.runID, s.startingBalance
	s.mu.RUnlock()
	s.broadcast(outMessage{Type: "RunStart", Data: RunStart{
		RunID: runID, TimestampISO: isoNow(), StartingBalance: bal,
	}})
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.close()
}

func (s *Server) sendRunStartTo(c *client) {
	s.mu.RLock()
	runID, bal := s.runID, s.startingBalance
	s.mu.RUnlock()
	s.sendTo(c, outMessage{Type: "RunStart", Data: RunStart{
		RunID: runID, TimestampISO: isoNow(), StartingBalance: bal,
	}})
}

// broadcast sends msg to every connected client; a full client buffer drops
// the message for that client only (spec §4.8 isolation guarantee).
func (s *Server) broadcast(msg outMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Str("type", msg.Type).Msg("marshal push message failed")
		return
	}

	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if !c.send(data) {
			s.log.Warn().Uint64("client_id", c.id).Str("type", msg.Type).Msg("push dropped, client buffer full")
			s.recordDrop(msg.Type)
		}
	}
}

func (s *Server) sendTo(c *client, msg outMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Str("type", msg.Type).Msg("marshal message failed")
		return
	}
	if !c.send(data) {
		s.recordDrop(msg.Type)
	}
}

// recordDrop exports a push drop via the metrics package (spec §4.8
// backpressure), on top of the per-client in-memory Dropped counter client
// already keeps for diagnostics.
func (s *Server) recordDrop(msgType string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ClientsDropped.WithLabelValues(msgType).Inc()
}

// handleRequest dispatches a single parsed client request and returns the
// outMessage to send back. Unknown types and handler errors both produce an
// error response with request_id preserved (spec §4.8, §7 Protocol errors).
func (s *Server) handleRequest(env envelope) outMessage {
	switch env.Type {
	case "QueryCandles":
		return s.handleQueryCandles(env)
	case "QueryEvents":
		return s.handleQueryEvents(env)
	case "QueryOrders":
		return s.handleQueryOrders(env)
	case "QueryPositions":
		return s.handleQueryPositions(env)
	case "QueryDefaultViewport":
		return s.handleQueryDefaultViewport(env)
	default:
		return outMessage{Type: "ErrorResponse", RequestID: env.RequestID, Error: fmt.Sprintf("unknown request type %q", env.Type)}
	}
}

func (s *Server) handleQueryCandles(env envelope) outMessage {
	var req queryCandlesReq
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return errResp("QueryCandlesResponse", env.RequestID, "malformed request")
	}
	candles, err := s.store.QueryCandles(req.Symbol, req.ResolutionMs, req.StartMs, req.EndMs)
	if err != nil {
		return errResp("QueryCandlesResponse", env.RequestID, err.Error())
	}
	truncated := false
	if req.Limit > 0 && len(candles) > req.Limit {
		candles = candles[:req.Limit]
		truncated = true
	}
	out := make([]Candle, len(candles))
	for i, c := range candles {
		out[i] = candleOf(c)
	}
	return outMessage{Type: "QueryCandlesResponse", RequestID: env.RequestID, Data: queryCandlesResp{
		Symbol: req.Symbol, ResolutionMs: req.ResolutionMs, Candles: out, Count: len(out), IsTruncated: truncated,
	}}
}

func (s *Server) handleQueryEvents(env envelope) outMessage {
	var req queryEventsReq
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return errResp("QueryEventsResponse", env.RequestID, "malformed request")
	}
	events, err := s.store.QueryEvents(req.Symbol, req.StartMs, req.EndMs, req.EventTypes)
	if err != nil {
		return errResp("QueryEventsResponse", env.RequestID, err.Error())
	}
	truncated := false
	if req.Limit > 0 && len(events) > req.Limit {
		events = events[:req.Limit]
		truncated = true
	}
	out := make([]eventOut, len(events))
	for i, e := range events {
		out[i] = eventOutOf(e)
	}
	return outMessage{Type: "QueryEventsResponse", RequestID: env.RequestID, Data: queryEventsResp{
		Symbol: req.Symbol, Events: out, Count: len(out), IsTruncated: truncated,
	}}
}

func (s *Server) handleQueryOrders(env envelope) outMessage {
	orders := s.broker.GetOrders()
	out := make([]orderOut, len(orders))
	for i, o := range orders {
		out[i] = orderOutOf(o)
	}
	return outMessage{Type: "QueryOrdersResponse", RequestID: env.RequestID, Data: out}
}

func (s *Server) handleQueryPositions(env envelope) outMessage {
	positions := s.broker.GetPositions()
	out := make([]positionOut, len(positions))
	for i, p := range positions {
		out[i] = positionOutOf(p)
	}
	return outMessage{Type: "QueryPositionsResponse", RequestID: env.RequestID, Data: out}
}

// handleQueryDefaultViewport answers with [max_event_time - 24h,
// max_event_time] for the configured symbol, or NoDataYet if nothing has
// been recorded (spec §4.8).
func (s *Server) handleQueryDefaultViewport(env envelope) outMessage {
	symbol := s.cfg.DefaultSymbol
	s.mu.RLock()
	maxMs, ok := s.lastEventMs[symbol]
	s.mu.RUnlock()
	if !ok {
		return errResp("QueryDefaultViewportResponse", env.RequestID, "NoDataYet")
	}
	const day = 24 * 60 * 60 * 1000
	start := maxMs - day
	if start < 0 {
		start = 0
	}
	return outMessage{Type: "QueryDefaultViewportResponse", RequestID: env.RequestID, Data: defaultViewportResp{
		Symbol: symbol, StartMs: start, EndMs: maxMs,
	}}
}

func errResp(typ, requestID, msg string) outMessage {
	return outMessage{Type: typ, RequestID: requestID, Error: msg}
}

func msToISO(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
