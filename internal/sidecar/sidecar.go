// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sidecar is the worker-side half of the wire protocol. A
// backend adapter implements Handler and hands it to Server, which
// speaks the envelope protocol over stdin/stdout: hello first, then run
// dispatch, cancellation relay, and ping/pong liveness.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/logger"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/wire"
)

// Handler executes work orders on behalf of the server. Run should
// stream progress through the sender and return the completed receipt;
// it must honor ctx, which is cancelled when the host sends a cancel
// envelope.
type Handler interface {
	Run(ctx context.Context, runID string, order contract.WorkOrder, sender *EventSender) (contract.Receipt, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, runID string, order contract.WorkOrder, sender *EventSender) (contract.Receipt, error)

func (f HandlerFunc) Run(ctx context.Context, runID string, order contract.WorkOrder, sender *EventSender) (contract.Receipt, error) {
	return f(ctx, runID, order, sender)
}

// EventSender emits run-correlated event envelopes. Safe for concurrent
// use.
type EventSender struct {
	writeFn func(wire.Envelope) error
	refID   string
}

// RefID returns the run id this sender is correlated to.
func (s *EventSender) RefID() string { return s.refID }

// Send emits one agent event for this run.
func (s *EventSender) Send(ev contract.AgentEvent) error {
	return s.writeFn(wire.Event(s.refID, ev))
}

// Server drives the worker side of the protocol.
type Server struct {
	handler      Handler
	identity     contract.BackendIdentity
	capabilities contract.CapabilityManifest
	mode         contract.ExecutionMode
}

// NewServer creates a server for the given handler and backend
// identity.
func NewServer(handler Handler, identity contract.BackendIdentity, caps contract.CapabilityManifest, mode contract.ExecutionMode) *Server {
	return &Server{
		handler:      handler,
		identity:     identity,
		capabilities: caps,
		mode:         mode,
	}
}

// Serve runs the protocol loop over stdin/stdout until the host closes
// the stream.
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO runs the protocol loop with injectable I/O (for testing).
//
// The server sends hello as its first line, then processes envelopes:
// run dispatches the handler, cancel aborts the matching run's context,
// ping answers with pong. The handler's receipt goes out as a final
// envelope; a handler error becomes a fatal envelope.
func (s *Server) ServeIO(ctx context.Context, r io.Reader, w io.Writer) error {
	log := logger.GetSidecarLogger()
	out := &lockedWriter{w: wire.NewWriter(w)}
	sc := wire.NewScanner(r)

	if err := out.write(wire.Hello(s.identity, s.capabilities, s.mode)); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	var (
		runWG   sync.WaitGroup
		mu      sync.Mutex
		cancels = make(map[string]context.CancelCauseFunc)
	)
	defer runWG.Wait()

	for {
		env, err := sc.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read envelope: %w", err)
		}

		switch env.T {
		case wire.KindRun:
			runCtx, cancel := context.WithCancelCause(ctx)
			mu.Lock()
			cancels[env.ID] = cancel
			mu.Unlock()

			runID := env.ID
			order := *env.WorkOrder
			runWG.Add(1)
			go func() {
				defer runWG.Done()
				defer func() {
					mu.Lock()
					delete(cancels, runID)
					mu.Unlock()
					cancel(nil)
				}()
				s.dispatch(runCtx, runID, order, out, log)
			}()

		case wire.KindCancel:
			mu.Lock()
			cancel, ok := cancels[env.RefID]
			mu.Unlock()
			if !ok {
				log.Warn().Str("ref_id", env.RefID).Msg("cancel for unknown run")
				continue
			}
			cancel(fmt.Errorf("cancelled by host: %s", env.Reason))

		case wire.KindPing:
			if err := out.write(wire.Pong(env.Seq)); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}

		default:
			log.Warn().Str("kind", string(env.T)).Msg("ignoring unexpected envelope")
		}
	}
}

// dispatch runs the handler and translates its outcome onto the wire.
func (s *Server) dispatch(ctx context.Context, runID string, order contract.WorkOrder, out *lockedWriter, log zerolog.Logger) {
	sender := &EventSender{writeFn: out.write, refID: runID}

	receipt, err := s.handler.Run(ctx, runID, order, sender)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("handler failed")
		if werr := out.write(wire.Fatal(runID, err.Error())); werr != nil {
			log.Error().Err(werr).Str("run_id", runID).Msg("failed to send fatal")
		}
		return
	}

	if werr := out.write(wire.Final(runID, receipt)); werr != nil {
		log.Error().Err(werr).Str("run_id", runID).Msg("failed to send final")
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  *wire.Writer
}

func (l *lockedWriter) write(env wire.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(env)
}
