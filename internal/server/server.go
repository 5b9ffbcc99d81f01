// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package server exposes the daemon's operational HTTP surface: the
// prometheus metrics endpoint and health probes. It runs as a suture
// service so a listener failure restarts without touching training.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sokonilabs/sokoni/internal/recommend"
)

// MetricsServer serves /metrics, /healthz and /readyz.
type MetricsServer struct {
	addr   string
	engine *recommend.Engine
	logger zerolog.Logger
}

// NewMetricsServer creates the operational listener. The engine drives
// readiness: the daemon is ready once a data snapshot is loaded.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func NewMetricsServer(addr string, engine *recommend.Engine, logger zerolog.Logger) *MetricsServer {
	return &MetricsServer{
		addr:   addr,
		engine: engine,
		logger: logger.With().Str("component", "server").Logger(),
	}
}

// Handler builds the operational mux.
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.engine.Snapshot() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "no data snapshot loaded")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ready")
	})
	return mux
}

// Serve runs the listener until the context is cancelled.
func (s *MetricsServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", s.addr).Msg("metrics listener started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics listener: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
