package store

import (
	"fmt"
	"sort"

	"github.com/ndrandal/tradecore/internal/eventbus"
)

// QueryCandles returns candles for symbol/resolution with open_time_ms in
// [startMs, endMs], ascending by open time. It consults the LRU cache keyed
// by (symbol, resolution) first; on miss it loads the full durable slice
// for that pair, populates the cache, then filters in memory (spec §4.7).
func (s *Store) QueryCandles(symbol string, resolutionMs, startMs, endMs int64) ([]eventbus.CandleEvent, error) {
	key := candleCacheKey{symbol: symbol, resolutionMs: resolutionMs}

	all, ok := s.cache.getCandles(key)
	if !ok {
		loaded, err := s.loadAllCandles(symbol, resolutionMs)
		if err != nil {
			return nil, err
		}
		s.cache.putCandles(key, loaded)
		all = loaded
	}

	out := make([]eventbus.CandleEvent, 0, len(all))
	for _, c := range all {
		if c.OpenTimeMs >= startMs && c.OpenTimeMs <= endMs {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTimeMs < out[j].OpenTimeMs })
	return out, nil
}

func (s *Store) loadAllCandles(symbol string, resolutionMs int64) ([]eventbus.CandleEvent, error) {
	s.buffers.bufferMu.Lock()
	pending := make([]eventbus.CandleEvent, 0)
	for _, c := range s.buffers.candles {
		if c.Symbol == symbol && c.ResolutionMs == resolutionMs {
			pending = append(pending, c)
		}
	}
	s.buffers.bufferMu.Unlock()

	s.buffers.dbMu.Lock()
	rows, err := s.db.Query(`
		SELECT open_time_ms, source, open, high, low, close, volume
		FROM candles WHERE symbol = ? AND resolution_ms = ?
		ORDER BY open_time_ms ASC
	`, symbol, resolutionMs)
	s.buffers.dbMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	out := make([]eventbus.CandleEvent, 0)
	for rows.Next() {
		var c eventbus.CandleEvent
		var source string
		if err := rows.Scan(&c.OpenTimeMs, &source, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Symbol = symbol
		c.ResolutionMs = resolutionMs
		c.Source = eventbus.CandleSource(source)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}

	return append(out, pending...), nil
}

// QueryEvents returns events for symbol with timestamp_ms in [startMs,
// endMs], optionally filtered to eventTypes, ascending by time. Cached per
// the exact (symbol, startMs, endMs) range, per spec §4.7.
func (s *Store) QueryEvents(symbol string, startMs, endMs int64, eventTypes []string) ([]EventRecord, error) {
	key := eventCacheKey{symbol: symbol, startMs: startMs, endMs: endMs}

	all, ok := s.cache.getEvents(key)
	if !ok {
		loaded, err := s.loadEventsRange(symbol, startMs, endMs)
		if err != nil {
			return nil, err
		}
		s.cache.putEvents(key, loaded)
		all = loaded
	}

	if len(eventTypes) == 0 {
		return append([]EventRecord(nil), all...), nil
	}

	want := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		want[t] = true
	}

	out := make([]EventRecord, 0, len(all))
	for _, e := range all {
		if want[e.EventType] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) loadEventsRange(symbol string, startMs, endMs int64) ([]EventRecord, error) {
	s.buffers.dbMu.Lock()
	rows, err := s.db.Query(`
		SELECT event_type, timestamp_ms, symbol, source, data_json
		FROM events WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`, symbol, startMs, endMs)
	s.buffers.dbMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]EventRecord, 0)
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.EventType, &e.EventTimeMs, &e.Symbol, &e.Source, &e.PayloadJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	s.buffers.bufferMu.Lock()
	for _, e := range s.buffers.events {
		if e.Symbol == symbol && e.EventTimeMs >= startMs && e.EventTimeMs <= endMs {
			out = append(out, e)
		}
	}
	s.buffers.bufferMu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].EventTimeMs < out[j].EventTimeMs })
	return out, nil
}
