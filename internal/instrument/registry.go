// Package instrument maintains the process-wide symbol <-> id mapping and
// per-instrument metadata (spec §4.2).
package instrument

import (
	"sync"
	"sync/atomic"
)

// AssetClass classifies an instrument (spec §3).
type AssetClass string

const (
	AssetEquity  AssetClass = "Equity"
	AssetFuture  AssetClass = "Future"
	AssetOption  AssetClass = "Option"
	AssetFX      AssetClass = "FX"
	AssetCrypto  AssetClass = "Crypto"
	AssetUnknown AssetClass = "Unknown"
)

// NotFoundID is returned by lookups that miss. It is never a valid
// instrument id (ids are minted starting at 1); callers should never treat
// a miss as an error, per spec §4.2.
const NotFoundID uint64 = 0

// Instrument is immutable except for its Metadata map, which may be updated
// post-hoc.
type Instrument struct {
	ID         uint64
	Symbol     string
	AssetClass AssetClass
	Exchange   string
	Currency   string
	Multiplier float64
	Metadata   map[string]string
}

// Registry is a bidirectional symbol <-> id map. The zero value is not
// usable; use New.
type Registry struct {
	mu      sync.RWMutex
	byID    map[uint64]*Instrument
	bySym   map[string]*Instrument
	nextID  atomic.Uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byID:  make(map[uint64]*Instrument),
		bySym: make(map[string]*Instrument),
	}
}

// Options carries the optional fields for Register.
type Options struct {
	AssetClass AssetClass
	Exchange   string
	Currency   string
	Multiplier float64
}

// Register creates the instrument for symbol on first call; subsequent
// calls for the same symbol are idempotent and return the existing id,
// ignoring any new options.
func (r *Registry) Register(symbol string, opts Options) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bySym[symbol]; ok {
		return existing.ID
	}

	id := r.nextID.Add(1)
	if opts.AssetClass == "" {
		opts.AssetClass = AssetUnknown
	}
	inst := &Instrument{
		ID:         id,
		Symbol:     symbol,
		AssetClass: opts.AssetClass,
		Exchange:   opts.Exchange,
		Currency:   opts.Currency,
		Multiplier: opts.Multiplier,
		Metadata:   make(map[string]string),
	}
	r.byID[id] = inst
	r.bySym[symbol] = inst
	return id
}

// ByID looks up an instrument by id. ok is false on a miss; callers must
// not treat a miss as an error.
func (r *Registry) ByID(id uint64) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	if !ok {
		return Instrument{}, false
	}
	return *inst, true
}

// BySymbol looks up an instrument by symbol.
func (r *Registry) BySymbol(symbol string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.bySym[symbol]
	if !ok {
		return Instrument{}, false
	}
	return *inst, true
}

// SetMetadata updates a single metadata key for the instrument with the
// given id. It is a no-op if the id is unknown.
func (r *Registry) SetMetadata(id uint64, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	if !ok {
		return
	}
	inst.Metadata[key] = value
}

// All returns a snapshot of every registered instrument.
func (r *Registry) All() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Instrument, 0, len(r.byID))
	for _, inst := range r.byID {
		out = append(out, *inst)
	}
	return out
}
