// Package store implements the durable candle/event store: a buffered
// write path over an embedded transactional engine, and a read path backed
// by an LRU read-through cache (spec §4.7, §6.4).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/metrics"
)

// Config controls buffer thresholds, cache sizes, and flush cadence
// (spec §4.7 defaults: 50,000-item buffers, 100-entry caches, 5s flush).
type Config struct {
	Path             string
	CandleBufferSize int
	EventBufferSize  int
	CandleCacheSize  int
	EventCacheSize   int
	FlushInterval    time.Duration
}

// DefaultConfig returns a Config for path with every other field set to
// the stated defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		CandleBufferSize: 50_000,
		EventBufferSize:  50_000,
		CandleCacheSize:  100,
		EventCacheSize:   100,
		FlushInterval:    5 * time.Second,
	}
}

// Store owns write buffers, the LRU caches, and the durable file handle
// exclusively. No other component reaches into its internals.
type Store struct {
	cfg Config
	db  *sql.DB
	log zerolog.Logger
	m   *metrics.Registry

	buffers *writeBuffers
	cache   *readCache

	flushCancel context.CancelFunc
}

// Open opens (creating if absent) the sqlite-backed store at cfg.Path,
// enables WAL mode for crash durability with sync at commit rather than
// per write, and ensures the schema is at or above the required version.
func Open(cfg Config, m *metrics.Registry, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer, WAL allows concurrent readers internally

	s := &Store{
		cfg: cfg,
		db:  db,
		log: log,
		m:   m,
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	s.buffers = newWriteBuffers(cfg, s, log, m)
	s.cache = newReadCache(cfg, m)

	return s, nil
}

// StartFlusher launches the background ticker that flushes buffered writes
// every cfg.FlushInterval when at least one item is pending. Flush is also
// invoked inline whenever a buffer threshold is crossed, independent of
// this timer.
func (s *Store) StartFlusher(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.flushCancel = cancel
	go s.buffers.runFlusher(ctx)
}

// Close flushes any pending writes and closes the durable file handle.
func (s *Store) Close() error {
	if s.flushCancel != nil {
		s.flushCancel()
	}
	s.buffers.flushAll()
	return s.db.Close()
}

// ClearAll drops all cached read state; it does not touch durable rows.
func (s *Store) ClearAll() {
	s.cache.clearAll()
}

// AddCandle buffers a finalized candle for the next batch write. Satisfies
// candle.Sink.
func (s *Store) AddCandle(c eventbus.CandleEvent) {
	s.buffers.AddCandle(c)
}

// AddEvent buffers a StoredEvent for the next batch write.
func (s *Store) AddEvent(e EventRecord) {
	s.buffers.AddEvent(e)
}

// Flush drains both write buffers into the durable engine immediately,
// regardless of threshold or timer state.
func (s *Store) Flush() {
	s.buffers.flushAll()
}

// FlushAll is an alias for Flush, named to match spec §8 testable
// property 5's "flush_all" terminology.
func (s *Store) FlushAll() {
	s.Flush()
}
