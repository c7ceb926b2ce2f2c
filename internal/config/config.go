// Package config loads process configuration from flags with environment
// variable defaults, in the teacher's style: every setting has an env var
// fallback, and flags take precedence when explicitly passed.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	// Run
	Seed        int64
	RunDuration time.Duration // 0 = run until shutdown signal
	StartingBalance float64
	OrderQty        float64
	DefaultSymbols  []string
	QueryTimeout    time.Duration
	ShutdownPollMs  int

	// Market data
	TickInterval time.Duration
	BaseVol      float64

	// Candle aggregation
	CandleResolutionMs int64
	PushCandles        bool

	// Store
	StorePath        string
	CandleBufferSize int
	EventBufferSize  int
	CandleCacheSize  int
	EventCacheSize   int
	FlushInterval    time.Duration

	// Query server
	QueryPort      int
	QueryHost      string
	SendBufferSize int
	DefaultViewportSymbol string

	// Instrument registry
	InstrumentSeedPath string

	// Logging
	Debug bool
}

// Load parses flags (with env-var fallbacks) into a Config.
func Load() *Config {
	c := &Config{}

	flag.Int64Var(&c.Seed, "seed", envInt64("ENGINE_SEED", 0), "PRNG seed for the reference market adapter (0 = random)")
	flag.DurationVar(&c.RunDuration, "run-duration", envDuration("ENGINE_RUN_DURATION", 0), "run duration (0 = until shutdown signal)")
	flag.Float64Var(&c.StartingBalance, "starting-balance", envFloat("ENGINE_STARTING_BALANCE", 1_000_000), "starting cash balance")
	flag.Float64Var(&c.OrderQty, "order-qty", envFloat("ENGINE_ORDER_QTY", 0.01), "quantity per strategy-initiated order")
	flag.DurationVar(&c.QueryTimeout, "query-timeout", envDuration("ENGINE_QUERY_TIMEOUT", 2*time.Minute), "soft ceiling on a single viewer query")
	flag.IntVar(&c.ShutdownPollMs, "shutdown-poll-ms", envInt("ENGINE_SHUTDOWN_POLL_MS", 50), "run loop shutdown-flag poll interval in ms (must be <=100)")

	flag.DurationVar(&c.TickInterval, "tick-interval", envDuration("ENGINE_TICK_INTERVAL", 200*time.Millisecond), "reference adapter per-symbol tick pace")
	flag.Float64Var(&c.BaseVol, "base-vol", envFloat("ENGINE_BASE_VOL", 0.001), "reference adapter per-tick log-return volatility")

	flag.Int64Var(&c.CandleResolutionMs, "candle-resolution-ms", envInt64("ENGINE_CANDLE_RESOLUTION_MS", 60_000), "candle bucket width in ms")
	flag.BoolVar(&c.PushCandles, "push-candles", envBool("ENGINE_PUSH_CANDLES", true), "push finalized candles to connected viewers")

	flag.StringVar(&c.StorePath, "store-path", envStr("ENGINE_STORE_PATH", "./engine.db"), "sqlite store file path")
	flag.IntVar(&c.CandleBufferSize, "candle-buffer-size", envInt("ENGINE_CANDLE_BUFFER_SIZE", 50_000), "candle write buffer threshold")
	flag.IntVar(&c.EventBufferSize, "event-buffer-size", envInt("ENGINE_EVENT_BUFFER_SIZE", 50_000), "event write buffer threshold")
	flag.IntVar(&c.CandleCacheSize, "candle-cache-size", envInt("ENGINE_CANDLE_CACHE_SIZE", 100), "candle LRU cache entries")
	flag.IntVar(&c.EventCacheSize, "event-cache-size", envInt("ENGINE_EVENT_CACHE_SIZE", 100), "event LRU cache entries")
	flag.DurationVar(&c.FlushInterval, "flush-interval", envDuration("ENGINE_FLUSH_INTERVAL", 5*time.Second), "store background flush interval")

	flag.IntVar(&c.QueryPort, "query-port", envInt("ENGINE_QUERY_PORT", 8200), "viewer websocket listen port")
	flag.StringVar(&c.QueryHost, "query-host", envStr("ENGINE_QUERY_HOST", "0.0.0.0"), "viewer websocket listen host")
	flag.IntVar(&c.SendBufferSize, "send-buffer", envInt("ENGINE_SEND_BUFFER", 256), "per-viewer send buffer size (not read by the query server, whose per-viewer buffer is fixed at 256 messages)")
	flag.StringVar(&c.DefaultViewportSymbol, "default-viewport-symbol", envStr("ENGINE_DEFAULT_VIEWPORT_SYMBOL", "BTCUSD"), "symbol used for QueryDefaultViewport")

	flag.StringVar(&c.InstrumentSeedPath, "instrument-seed", envStr("ENGINE_INSTRUMENT_SEED", ""), "optional YAML instrument registry seed file")

	flag.BoolVar(&c.Debug, "debug", envBool("ENGINE_DEBUG", false), "enable debug-level console logging")

	symbolsFlag := flag.String("symbols", envStr("ENGINE_SYMBOLS", "BTCUSD"), "comma-separated symbols for the reference adapter")

	flag.Parse()

	c.DefaultSymbols = splitNonEmpty(*symbolsFlag, ',')
	return c
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == sep {
			if tok := s[start:i]; tok != "" {
				out = append(out, tok)
			}
			start = i + 1
		}
	}
	return out
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
