package engine

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/store"
)

// eventPersister subscribes to every lifecycle topic and appends a
// StoredEvent record to the store for each one (spec §3, §6.4 events
// table). store.AddEvent buffers the record and writes to disk inline only
// when the event buffer reaches its threshold, so that publish then blocks
// on the batch write.
type eventPersister struct {
	st     *store.Store
	source string
	log    zerolog.Logger
}

func newEventPersister(bus *eventbus.Bus, st *store.Store, source string, log zerolog.Logger) *eventPersister {
	p := &eventPersister{st: st, source: source, log: log}

	bus.Subscribe(eventbus.TopicOrderPlaced, func(evt eventbus.Event) { p.persist("OrderPlaced", evt.(eventbus.OrderPlacedEvent).Symbol, evt.(eventbus.OrderPlacedEvent).EventTimeMs, evt) })
	bus.Subscribe(eventbus.TopicOrderFilled, func(evt eventbus.Event) { p.persist("OrderFilled", evt.(eventbus.OrderFilledEvent).Symbol, evt.(eventbus.OrderFilledEvent).EventTimeMs, evt) })
	bus.Subscribe(eventbus.TopicOrderRejected, func(evt eventbus.Event) { p.persist("OrderRejected", evt.(eventbus.OrderRejectedEvent).Symbol, evt.(eventbus.OrderRejectedEvent).EventTimeMs, evt) })
	bus.Subscribe(eventbus.TopicPositionUpdate, func(evt eventbus.Event) {
		e := evt.(eventbus.PositionUpdatedEvent)
		p.persist("PositionUpdated", e.Symbol, 0, evt)
	})

	return p
}

func (p *eventPersister) persist(eventType, symbol string, eventTimeMs int64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Str("event_type", eventType).Msg("marshal lifecycle event failed")
		return
	}
	p.st.AddEvent(store.EventRecord{
		EventType:   eventType,
		EventTimeMs: eventTimeMs,
		Symbol:      symbol,
		Source:      p.source,
		PayloadJSON: string(data),
	})
}
