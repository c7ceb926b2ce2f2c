package store

import (
	"database/sql"
	"fmt"
)

// schemaVersion is the version this build requires. Migrations are
// additive: startup ensures the on-disk schema is at or above this value,
// creating tables/indexes if absent (spec §4.7, §6.4).
const schemaVersion = 1

// ensureSchema creates the candles/events/schema_version tables and their
// indexes if they do not already exist, then checks (and if necessary
// advances) the schema_version row.
func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS candles (
			symbol         TEXT    NOT NULL,
			resolution_ms  INTEGER NOT NULL,
			open_time_ms   INTEGER NOT NULL,
			source         TEXT    NOT NULL,
			open           REAL    NOT NULL,
			high           REAL    NOT NULL,
			low            REAL    NOT NULL,
			close          REAL    NOT NULL,
			volume         REAL    NOT NULL,
			trade_count    INTEGER NOT NULL DEFAULT 0,
			ingestion_time INTEGER NOT NULL,
			PRIMARY KEY (symbol, resolution_ms, open_time_ms, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_lookup
			ON candles (symbol, resolution_ms, open_time_ms)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id       INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type     TEXT    NOT NULL,
			timestamp_ms   INTEGER NOT NULL,
			symbol         TEXT    NOT NULL,
			source         TEXT    NOT NULL,
			data_json      TEXT    NOT NULL,
			ingestion_time INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_symbol_time
			ON events (symbol, timestamp_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_symbol
			ON events (event_type, symbol)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema stmt: %w", err)
		}
	}

	return migrateVersion(db)
}

func migrateVersion(db *sql.DB) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("count schema_version: %w", err)
	}
	if count == 0 {
		_, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion)
		if err != nil {
			return fmt.Errorf("insert schema_version: %w", err)
		}
		return nil
	}

	var current int
	if err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current < schemaVersion {
		// Additive migrations would run here, keyed off `current`. There
		// are none yet; just record the new version.
		if _, err := db.Exec(`UPDATE schema_version SET version = ?`, schemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}
	return nil
}
