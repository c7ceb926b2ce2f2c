package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/metrics"
)

// EventRecord is a single StoredEvent (spec §3): an append-only lifecycle
// or diagnostic event with an opaque structured payload.
type EventRecord struct {
	EventType   string
	EventTimeMs int64
	Symbol      string
	Source      string
	PayloadJSON string // opaque structured blob, already JSON-encoded by the caller
}

// writeBuffers guards the in-memory candle/event buffers (buffer_mutex) and
// drives flushes into the durable engine (store_mutex). Reads release
// buffer_mutex before acquiring store_mutex, per spec §4.7 concurrency
// rules; the lock order everywhere is buffer -> db -> cache.
type writeBuffers struct {
	bufferMu sync.Mutex
	candles  []eventbus.CandleEvent
	events   []EventRecord

	dbMu sync.Mutex // store_mutex: guards durable operations on s.db

	cfg   Config
	store *Store
	log   zerolog.Logger
	m     *metrics.Registry

	lastFlush time.Time
}

func newWriteBuffers(cfg Config, s *Store, log zerolog.Logger, m *metrics.Registry) *writeBuffers {
	return &writeBuffers{cfg: cfg, store: s, log: log, m: m, lastFlush: time.Now()}
}

// AddCandle buffers c for the next batch write, flushing inline if the
// candle buffer has reached its configured threshold. Satisfies
// candle.Sink.
func (b *writeBuffers) AddCandle(c eventbus.CandleEvent) {
	b.bufferMu.Lock()
	b.candles = append(b.candles, c)
	n := len(b.candles)
	b.reportDepth("candles", n)
	b.bufferMu.Unlock()

	if n >= b.cfg.CandleBufferSize {
		b.flushCandles()
	}
}

// AddEvent buffers e for the next batch write, flushing inline if the
// event buffer has reached its configured threshold.
func (b *writeBuffers) AddEvent(e EventRecord) {
	b.bufferMu.Lock()
	b.events = append(b.events, e)
	n := len(b.events)
	b.reportDepth("events", n)
	b.bufferMu.Unlock()

	if n >= b.cfg.EventBufferSize {
		b.flushEvents()
	}
}

func (b *writeBuffers) reportDepth(buf string, n int) {
	if b.m == nil {
		return
	}
	b.m.BufferDepth.WithLabelValues(buf).Set(float64(n))
}

// runFlusher wakes on cfg.FlushInterval and flushes both buffers whenever
// at least one item is pending since the last flush.
func (b *writeBuffers) runFlusher(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.bufferMu.Lock()
			pending := len(b.candles) > 0 || len(b.events) > 0
			b.bufferMu.Unlock()
			if pending {
				b.flushAll()
			}
		}
	}
}

// flushAll drains both buffers. Store.Flush, Store.FlushAll and Store.Close
// call it for the engine's shutdown sequence and explicit flush requests.
func (b *writeBuffers) flushAll() {
	b.flushCandles()
	b.flushEvents()
}

// flushCandles drains the candle buffer in a single atomic batch write. On
// failure the batch is retried once inline; if that retry also fails, the
// batch is preserved in-buffer (prepended back) and the failure logged.
// Repeated failures are not escalated: the batch stays in the buffer for
// the next flush, and the run continues.
func (b *writeBuffers) flushCandles() {
	b.bufferMu.Lock()
	if len(b.candles) == 0 {
		b.bufferMu.Unlock()
		return
	}
	batch := b.candles
	b.candles = nil
	b.bufferMu.Unlock()

	b.dbMu.Lock()
	err := writeCandleBatch(b.store.db, batch)
	if err != nil {
		b.log.Warn().Err(err).Int("n", len(batch)).Msg("candle batch write failed, retrying once")
		err = writeCandleBatch(b.store.db, batch)
	}
	b.dbMu.Unlock()

	if err != nil {
		b.log.Error().Err(err).Int("n", len(batch)).Msg("candle batch write failed after retry, preserving in buffer")
		b.bufferMu.Lock()
		b.candles = append(batch, b.candles...)
		b.bufferMu.Unlock()
		b.reportFlush("candles", "error")
		return
	}

	b.store.cache.invalidateCandlesForBatch(batch)
	b.reportFlush("candles", "ok")
	b.bufferMu.Lock()
	b.lastFlush = time.Now()
	b.reportDepth("candles", len(b.candles))
	b.bufferMu.Unlock()
}

// flushEvents is the event-buffer analogue of flushCandles.
func (b *writeBuffers) flushEvents() {
	b.bufferMu.Lock()
	if len(b.events) == 0 {
		b.bufferMu.Unlock()
		return
	}
	batch := b.events
	b.events = nil
	b.bufferMu.Unlock()

	b.dbMu.Lock()
	err := writeEventBatch(b.store.db, batch)
	if err != nil {
		b.log.Warn().Err(err).Int("n", len(batch)).Msg("event batch write failed, retrying once")
		err = writeEventBatch(b.store.db, batch)
	}
	b.dbMu.Unlock()

	if err != nil {
		b.log.Error().Err(err).Int("n", len(batch)).Msg("event batch write failed after retry, preserving in buffer")
		b.bufferMu.Lock()
		b.events = append(batch, b.events...)
		b.bufferMu.Unlock()
		b.reportFlush("events", "error")
		return
	}

	b.store.cache.invalidateEventsForBatch(batch)
	b.reportFlush("events", "ok")
	b.bufferMu.Lock()
	b.lastFlush = time.Now()
	b.reportDepth("events", len(b.events))
	b.bufferMu.Unlock()
}

func (b *writeBuffers) reportFlush(table, outcome string) {
	if b.m == nil {
		return
	}
	b.m.FlushTotal.WithLabelValues(table, outcome).Inc()
}

func writeCandleBatch(db *sql.DB, batch []eventbus.CandleEvent) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin candle tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO candles (symbol, resolution_ms, open_time_ms, source, open, high, low, close, volume, trade_count, ingestion_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, resolution_ms, open_time_ms, source) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume
	`)
	if err != nil {
		return fmt.Errorf("prepare candle insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, c := range batch {
		if _, err := stmt.Exec(c.Symbol, c.ResolutionMs, c.OpenTimeMs, string(c.Source),
			c.Open, c.High, c.Low, c.Close, c.Volume, 0, now); err != nil {
			return fmt.Errorf("insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit candle tx: %w", err)
	}
	return nil
}

func writeEventBatch(db *sql.DB, batch []EventRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (event_type, timestamp_ms, symbol, source, data_json, ingestion_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range batch {
		if _, err := stmt.Exec(e.EventType, e.EventTimeMs, e.Symbol, e.Source, e.PayloadJSON, now); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event tx: %w", err)
	}
	return nil
}
