// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/logger"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/wire"
)

// Timing bounds the supervision of one worker session.
type Timing struct {
	HelloTimeout      time.Duration
	HeartbeatInterval time.Duration
	StallWindow       time.Duration
	CancelGrace       time.Duration
}

// DefaultTiming returns the timing used when no configuration is
// supplied.
func DefaultTiming() Timing {
	return Timing{
		HelloTimeout:      10 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		StallWindow:       30 * time.Second,
		CancelGrace:       5 * time.Second,
	}
}

// Hello is the data extracted from a worker's handshake.
type Hello struct {
	ContractVersion string                      `json:"contract_version"`
	Backend         contract.BackendIdentity    `json:"backend"`
	Capabilities    contract.CapabilityManifest `json:"capabilities"`
	Mode            contract.ExecutionMode      `json:"mode"`
}

// Session is a supervised connection to one worker process. A session
// executes at most one run and must be torn down afterwards.
type Session struct {
	conn   Conn
	timing Timing
	sm     *stateMachine
	hello  Hello
	log    zerolog.Logger

	pingSeq      atomic.Uint64
	lastActivity atomic.Int64 // unix nanos

	teardownOnce sync.Once
}

// Attach performs the hello handshake over an established connection
// and returns a ready session. The worker must send a hello envelope as
// its first line; anything else tears the connection down.
func Attach(conn Conn, timing Timing) (*Session, error) {
	s := &Session{
		conn:   conn,
		timing: timing,
		sm:     newStateMachine(),
		log:    logger.GetWorkerLogger(),
	}
	s.touch()

	if err := s.sm.transition(StateAwaitingHello, "handshake started"); err != nil {
		return nil, err
	}

	env, err := s.recvWithTimeout(timing.HelloTimeout)
	if err != nil {
		if errors.Is(err, io.EOF) {
			code := conn.Wait()
			_ = s.sm.transition(StateExited, "exited before hello")
			return nil, &ExitedError{Code: code}
		}
		s.Teardown()
		_ = s.sm.transition(StateFatal, "handshake failed")
		return nil, err
	}

	if env.T != wire.KindHello {
		s.Teardown()
		_ = s.sm.transition(StateFatal, "first message was not hello")
		return nil, &ViolationError{Detail: fmt.Sprintf("expected hello as first message, got %q", env.T)}
	}

	remote, err := wire.ParseVersion(env.ContractVersion)
	if err != nil {
		s.Teardown()
		_ = s.sm.transition(StateFatal, "unparseable contract version")
		return nil, &ViolationError{Detail: err.Error()}
	}
	local := wire.CurrentVersion()
	if !local.Compatible(remote) {
		s.Teardown()
		_ = s.sm.transition(StateFatal, "version mismatch")
		return nil, &VersionError{Local: local.String(), Remote: remote.String()}
	}

	s.hello = Hello{
		ContractVersion: env.ContractVersion,
		Backend:         *env.Backend,
		Capabilities:    env.Capabilities,
		Mode:            env.Mode,
	}
	if s.hello.Mode == "" {
		s.hello.Mode = contract.ModeMapped
	}

	if err := s.sm.transition(StateIdle, "hello accepted"); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("backend", s.hello.Backend.ID).
		Str("contract_version", s.hello.ContractVersion).
		Msg("worker handshake complete")

	return s, nil
}

// Spawn launches a worker process and performs the handshake.
func Spawn(spec Spec, timing Timing) (*Session, error) {
	conn, err := StartProcess(spec)
	if err != nil {
		return nil, err
	}
	return Attach(conn, timing)
}

// Hello returns the handshake data.
func (s *Session) Hello() Hello { return s.hello }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.sm.current() }

// Transitions returns the state history.
func (s *Session) Transitions() []Transition { return s.sm.transitions() }

// Run is an in-progress execution. Consume Events until closed, then
// call Wait for the receipt.
type Run struct {
	events chan contract.AgentEvent
	done   chan struct{}

	once    sync.Once
	receipt contract.Receipt
	err     error
}

// Events streams run-correlated events. The channel closes when the
// run reaches a terminal state.
func (r *Run) Events() <-chan contract.AgentEvent { return r.events }

// Wait blocks until the run finishes and returns its receipt. The
// error carries the terminal failure for runs that ended without one.
func (r *Run) Wait(ctx context.Context) (contract.Receipt, error) {
	select {
	case <-r.done:
		return r.receipt, r.err
	case <-ctx.Done():
		return contract.Receipt{}, ctx.Err()
	}
}

// finish records the terminal outcome. The events channel is closed by
// the read loop alone, so late envelopes never race a closed channel.
func (r *Run) finish(receipt contract.Receipt, err error) {
	r.once.Do(func() {
		r.receipt = receipt
		r.err = err
		close(r.done)
	})
}

// Execute dispatches a work order to the worker and supervises it until
// a terminal state. Cancelling ctx sends a cancel envelope, waits out
// the grace period, and kills the process if it has not finished.
func (s *Session) Execute(ctx context.Context, runID string, order contract.WorkOrder) (*Run, error) {
	if err := s.sm.transition(StateRunning, "run dispatched"); err != nil {
		return nil, ErrNotIdle
	}

	if err := s.conn.Send(wire.Run(runID, order)); err != nil {
		_ = s.sm.transition(StateFatal, "run dispatch failed")
		s.Teardown()
		return nil, fmt.Errorf("send run: %w", err)
	}

	run := &Run{
		events: make(chan contract.AgentEvent, 256),
		done:   make(chan struct{}),
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(run.events)
		s.readLoop(runID, run)
	}()
	go s.heartbeat(runID, run, readerDone)
	go s.watchCancel(ctx, runID, run, readerDone)

	return run, nil
}

// readLoop consumes envelopes until the run terminates. It owns all
// terminal transitions for the run.
func (s *Session) readLoop(runID string, run *Run) {
	defer s.Teardown()

	for {
		env, err := s.conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				code := s.conn.Wait()
				_ = s.sm.transition(StateExited, "stdout closed")
				run.finish(contract.Receipt{}, &ExitedError{Code: code})
				return
			}
			_ = s.sm.transition(StateFatal, "recv failed")
			run.finish(contract.Receipt{}, fmt.Errorf("recv: %w", err))
			return
		}
		s.touch()

		switch env.T {
		case wire.KindEvent:
			if env.RefID != runID {
				s.log.Warn().Str("run_id", runID).Str("ref_id", env.RefID).Msg("dropping event for other run")
				continue
			}
			// The trace must be complete; the caller drains Events
			// until close, so a blocking send cannot wedge.
			run.events <- *env.Event

		case wire.KindFinal:
			if env.RefID != runID {
				_ = s.sm.transition(StateFatal, "correlation mismatch on final")
				run.finish(contract.Receipt{}, &ViolationError{Detail: fmt.Sprintf("final correlated to %q while running %q", env.RefID, runID)})
				return
			}
			// Never trust the worker's hash; recompute it here.
			sealed, err := contract.WithHash(*env.Receipt)
			if err != nil {
				_ = s.sm.transition(StateFatal, "receipt hash failed")
				run.finish(contract.Receipt{}, fmt.Errorf("seal receipt: %w", err))
				return
			}
			_ = s.sm.transition(StateComplete, "receipt received")
			run.finish(sealed, nil)
			return

		case wire.KindFatal:
			if env.RefID != "" && env.RefID != runID {
				_ = s.sm.transition(StateFatal, "correlation mismatch on fatal")
				run.finish(contract.Receipt{}, &ViolationError{Detail: fmt.Sprintf("fatal correlated to %q while running %q", env.RefID, runID)})
				return
			}
			_ = s.sm.transition(StateFatal, "worker fatal")
			run.finish(contract.Receipt{}, &FatalError{RefID: env.RefID, Message: env.Error})
			return

		case wire.KindPong:
			// Activity already recorded above.

		case wire.KindHello:
			// Redundant hello after handshake; ignore.

		default:
			_ = s.sm.transition(StateFatal, "unexpected envelope")
			run.finish(contract.Receipt{}, &ViolationError{Detail: fmt.Sprintf("unexpected %q envelope during run", env.T)})
			return
		}
	}
}

// heartbeat pings the worker and kills it when no envelope has arrived
// within the stall window.
func (s *Session) heartbeat(runID string, run *Run, readerDone <-chan struct{}) {
	if s.timing.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.timing.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			return
		case <-ticker.C:
			if s.timing.StallWindow > 0 && s.sinceActivity() > s.timing.StallWindow {
				s.log.Error().Str("run_id", runID).Dur("stall_window", s.timing.StallWindow).Msg("worker stalled, killing")
				_ = s.sm.transition(StateFatal, "heartbeat stall")
				run.finish(contract.Receipt{}, &StallError{Window: s.timing.StallWindow.String()})
				s.Teardown()
				return
			}
			if err := s.conn.Send(wire.Ping(s.pingSeq.Add(1))); err != nil {
				// The read loop will surface the terminal error.
				return
			}
		}
	}
}

// watchCancel relays context cancellation to the worker, giving it the
// grace period to emit a final receipt before being killed.
func (s *Session) watchCancel(ctx context.Context, runID string, run *Run, readerDone <-chan struct{}) {
	select {
	case <-readerDone:
		return
	case <-ctx.Done():
	}

	reason := "cancelled by host"
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		reason = cause.Error()
	}
	s.log.Info().Str("run_id", runID).Str("reason", reason).Msg("cancelling run")

	if err := s.conn.Send(wire.Cancel(runID, reason)); err != nil {
		s.Teardown()
		return
	}

	select {
	case <-readerDone:
	case <-time.After(s.timing.CancelGrace):
		s.log.Warn().Str("run_id", runID).Msg("cancel grace expired, killing worker")
		s.Teardown()
	}
}

// Teardown kills the worker process and reaps it. Safe to call from any
// state and more than once.
func (s *Session) Teardown() {
	s.teardownOnce.Do(func() {
		_ = s.conn.Kill()
		_ = s.conn.Wait()
	})
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) sinceActivity() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

// recvWithTimeout wraps a blocking Recv with a deadline. On timeout the
// pending Recv is abandoned; callers must tear the session down.
func (s *Session) recvWithTimeout(d time.Duration) (wire.Envelope, error) {
	if d <= 0 {
		return s.conn.Recv()
	}

	type result struct {
		env wire.Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := s.conn.Recv()
		ch <- result{env, err}
	}()

	select {
	case r := <-ch:
		return r.env, r.err
	case <-time.After(d):
		return wire.Envelope{}, fmt.Errorf("timed out waiting for hello after %s", d)
	}
}
