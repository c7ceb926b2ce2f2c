package market

import (
	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/instrument"
)

// Provider attaches N adapters and fans their trade streams onto the bus as
// TradePrint events, registering instruments on first sighting (spec §4.3).
type Provider struct {
	bus       *eventbus.Bus
	instr     *instrument.Registry
	log       zerolog.Logger
	adapters  []Adapter // attach order, also reverse-stop order
}

// New creates a Provider bound to bus and instr.
func New(bus *eventbus.Bus, instr *instrument.Registry, log zerolog.Logger) *Provider {
	return &Provider{bus: bus, instr: instr, log: log}
}

// Attach takes exclusive ownership of adapter; its lifecycle is now driven
// by StartAll/StopAll.
func (p *Provider) Attach(adapter Adapter) {
	p.adapters = append(p.adapters, adapter)
}

// SubscribeTrades forwards the subscription to every attached adapter. Each
// adapter's trades are merged into the same bus publication path.
func (p *Provider) SubscribeTrades(symbols []string) {
	for _, a := range p.adapters {
		a.SubscribeTrades(symbols, p.onPrint)
	}
}

// onPrint is the merge point: it registers the instrument if needed and
// publishes a TradePrint event. No deduplication or reordering is applied —
// adapters are trusted to emit per-instrument monotonic event times.
func (p *Provider) onPrint(pr Print) {
	id := p.instr.Register(pr.Symbol, instrument.Options{})

	evt := eventbus.TradePrintEvent{
		InstrumentID: id,
		Symbol:       pr.Symbol,
		Price:        pr.Price,
		Qty:          pr.Qty,
		EventTimeMs:  pr.EventTimeMs,
		Side:         decodeSide(pr.Side),
		OrderType:    decodeOrderType(pr.OrderType),
		Liquidity:    decodeLiquidity(pr.Liquidity),
		Metadata:     pr.Metadata,
	}
	p.bus.Publish(evt)
}

func decodeSide(b byte) eventbus.TradeSide {
	switch b {
	case 'B':
		return eventbus.SideBuy
	case 'S':
		return eventbus.SideSell
	default:
		return eventbus.SideUnknown
	}
}

func decodeOrderType(b byte) eventbus.TradeOrderType {
	switch b {
	case 'M':
		return eventbus.OrderTypeMarket
	case 'L':
		return eventbus.OrderTypeLimit
	default:
		return eventbus.OrderTypeUnknown
	}
}

func decodeLiquidity(b byte) eventbus.TradeLiquidity {
	switch b {
	case 'M':
		return eventbus.LiquidityMaker
	case 'T':
		return eventbus.LiquidityTaker
	default:
		return eventbus.LiquidityUnknown
	}
}

// StartAll starts every attached adapter in attach order. If an adapter
// fails to start, the error is logged and the Provider continues with the
// remaining adapters (spec §6.1 error behavior).
func (p *Provider) StartAll() {
	for _, a := range p.adapters {
		if err := a.Start(0); err != nil {
			p.log.Error().Err(err).Msg("adapter failed to start")
		}
	}
}

// StopAll stops every attached adapter in reverse attach order.
func (p *Provider) StopAll() {
	for i := len(p.adapters) - 1; i >= 0; i-- {
		p.adapters[i].Stop()
	}
}
