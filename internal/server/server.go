// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides a REST + WebSocket API over the orchestrator.
// Handlers dispatch work orders directly and stream run events to
// connected WebSocket clients as they happen.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/logger"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/orchestrator"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/store"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetServerLogger()
		log = &l
	})
	return log
}

// Server is the REST + WebSocket API server.
type Server struct {
	httpServer *http.Server
	clients    *ClientRegistry
}

// New creates and wires up the API server. It does NOT start listening —
// call Run() for that.
func New(cfg *config.ServerConfig, orch *orchestrator.Orchestrator, st *store.Store) *Server {
	clients := NewClientRegistry()
	handlers := NewHandlers(orch, st, clients)

	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(MaxBodySize(1 << 20)) // 1 MB default

	// REST routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.GetHealth)
		r.Get("/backends", handlers.GetBackends)
		r.Get("/stats", handlers.GetStats)

		r.Post("/runs", handlers.StartRun)

		r.Get("/receipts", handlers.ListReceipts)
		r.Get("/receipts/{runId}", handlers.GetReceipt)
	})

	// WebSocket
	r.Get("/ws", HandleWebSocket(clients, cfg.AllowedOrigins))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
		},
		clients: clients,
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. Blocks until the server is shut down or
// the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			getLog().Error().Err(err).Msg("Server shutdown error")
		}
	}()

	getLog().Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
