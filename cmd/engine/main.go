// Command engine runs the trading engine core: it drives a strategy
// against a market data adapter, executes orders through the broker,
// persists candles and lifecycle events, and serves viewers over a
// websocket query endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ndrandal/tradecore/internal/config"
	"github.com/ndrandal/tradecore/internal/engine"
	"github.com/ndrandal/tradecore/internal/logging"
	"github.com/ndrandal/tradecore/internal/metrics"
	"github.com/ndrandal/tradecore/internal/strategy"
)

func main() {
	cfg := config.Load()

	log := logging.Init(cfg.Debug)
	log.Info().Msg("engine starting")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	strat := strategy.NewMomentum(cfg.OrderQty)

	eng, err := engine.New(cfg, logging.Component(log, "engine"), m, strat)
	if err != nil {
		log.Fatal().Err(err).Msg("engine init failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received signal, requesting shutdown")
		eng.RequestShutdown()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/viewer", eng.QueryServer().Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","run_id":%q}`, eng.RunID())
	})

	addr := fmt.Sprintf("%s:%d", cfg.QueryHost, cfg.QueryPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Str("addr", addr).Msg("viewer query server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("query server error")
		}
	}()

	go func() {
		if err := eng.Run(ctx); err != nil {
			log.Error().Err(err).Msg("engine run error")
		}
		cancel()
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Info().Msg("engine stopped")
}
