// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/wire"
)

// fakeConn is an in-memory Conn scripted by tests. Envelopes pushed
// with push() are returned from Recv in order; closing ends the stream.
type fakeConn struct {
	mu       sync.Mutex
	incoming chan wire.Envelope
	sent     []wire.Envelope
	closed   bool
	killed   bool
	exitCode int
	onSend   func(env wire.Envelope)
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan wire.Envelope, 64)}
}

func (c *fakeConn) push(env wire.Envelope) { c.incoming <- env }

func (c *fakeConn) closeStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.incoming)
	}
}

func (c *fakeConn) Send(env wire.Envelope) error {
	c.mu.Lock()
	c.sent = append(c.sent, env)
	cb := c.onSend
	c.mu.Unlock()
	if cb != nil {
		cb(env)
	}
	return nil
}

func (c *fakeConn) Recv() (wire.Envelope, error) {
	env, ok := <-c.incoming
	if !ok {
		return wire.Envelope{}, io.EOF
	}
	return env, nil
}

func (c *fakeConn) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killed = true
	// Recv unblocks the way a dead process's closed stdout would.
	if !c.closed {
		c.closed = true
		close(c.incoming)
	}
	return nil
}

func (c *fakeConn) Wait() int { return c.exitCode }

func (c *fakeConn) sentKinds() []wire.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]wire.Kind, len(c.sent))
	for i, e := range c.sent {
		kinds[i] = e.T
	}
	return kinds
}

func helloEnvelope() wire.Envelope {
	return wire.Hello(
		contract.BackendIdentity{ID: "fake", Dialect: "claude", Version: "1.0"},
		contract.CapabilityManifest{contract.CapStreaming: contract.Native()},
		contract.ModeMapped,
	)
}

func testTiming() Timing {
	return Timing{
		HelloTimeout:      time.Second,
		HeartbeatInterval: 20 * time.Millisecond,
		StallWindow:       200 * time.Millisecond,
		CancelGrace:       50 * time.Millisecond,
	}
}

func testReceipt(runID string) contract.Receipt {
	return contract.NewReceipt("wo-1", runID, contract.BackendIdentity{ID: "fake", Dialect: "claude"}).
		Outcome(contract.OutcomeComplete).
		Seal()
}

func TestAttachHandshake(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())

	s, err := Attach(conn, testTiming())
	require.NoError(t, err)

	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, "fake", s.Hello().Backend.ID)
	assert.Equal(t, contract.ModeMapped, s.Hello().Mode)
}

func TestAttachRejectsNonHelloFirst(t *testing.T) {
	conn := newFakeConn()
	conn.push(wire.Ping(1))

	_, err := Attach(conn, testTiming())

	var v *ViolationError
	require.True(t, errors.As(err, &v))
	assert.Contains(t, v.Detail, "hello")
}

func TestAttachRejectsIncompatibleVersion(t *testing.T) {
	env := helloEnvelope()
	env.ContractVersion = "abp/v99.0"
	conn := newFakeConn()
	conn.push(env)

	_, err := Attach(conn, testTiming())

	var ve *VersionError
	require.True(t, errors.As(err, &ve))
}

func TestAttachExitBeforeHello(t *testing.T) {
	conn := newFakeConn()
	conn.exitCode = 3
	conn.closeStream()

	_, err := Attach(conn, testTiming())

	var ee *ExitedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 3, ee.Code)
}

func TestAttachHelloTimeout(t *testing.T) {
	conn := newFakeConn()
	timing := testTiming()
	timing.HelloTimeout = 30 * time.Millisecond

	_, err := Attach(conn, timing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestExecuteStreamsEventsAndReceipt(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())
	s, err := Attach(conn, testTiming())
	require.NoError(t, err)

	conn.push(wire.Event("run-1", contract.NewRunStarted("go")))
	conn.push(wire.Event("run-1", contract.NewAssistantMessage("done")))
	conn.push(wire.Final("run-1", testReceipt("run-1")))

	run, err := s.Execute(context.Background(), "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	var events []contract.AgentEvent
	for ev := range run.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, contract.EventRunStarted, events[0].Type)

	receipt, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contract.OutcomeComplete, receipt.Outcome)
	assert.Equal(t, StateComplete, s.State())
}

func TestExecuteRecomputesReceiptHash(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())
	s, err := Attach(conn, testTiming())
	require.NoError(t, err)

	tampered := testReceipt("run-1")
	bogus := "0000000000000000"
	tampered.ReceiptSHA256 = &bogus
	conn.push(wire.Final("run-1", tampered))

	run, err := s.Execute(context.Background(), "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	receipt, err := run.Wait(context.Background())
	require.NoError(t, err)

	require.NotNil(t, receipt.ReceiptSHA256)
	assert.NotEqual(t, bogus, *receipt.ReceiptSHA256)
	ok, err := contract.VerifyHash(receipt)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecuteDropsMismatchedEvent(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())
	s, err := Attach(conn, testTiming())
	require.NoError(t, err)

	conn.push(wire.Event("other-run", contract.NewWarning("stray")))
	conn.push(wire.Event("run-1", contract.NewAssistantMessage("mine")))
	conn.push(wire.Final("run-1", testReceipt("run-1")))

	run, err := s.Execute(context.Background(), "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	var events []contract.AgentEvent
	for ev := range run.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, "mine", events[0].Text)

	_, err = run.Wait(context.Background())
	require.NoError(t, err)
}

func TestExecuteMismatchedFinalIsViolation(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())
	s, err := Attach(conn, testTiming())
	require.NoError(t, err)

	conn.push(wire.Final("other-run", testReceipt("other-run")))

	run, err := s.Execute(context.Background(), "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	_, err = run.Wait(context.Background())
	var v *ViolationError
	require.True(t, errors.As(err, &v))
	assert.Contains(t, v.Detail, "other-run")
	assert.Equal(t, StateFatal, s.State())
}

func TestExecuteMismatchedFatalIsViolation(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())
	s, err := Attach(conn, testTiming())
	require.NoError(t, err)

	conn.push(wire.Fatal("other-run", "wrong run"))

	run, err := s.Execute(context.Background(), "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	_, err = run.Wait(context.Background())
	var v *ViolationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, StateFatal, s.State())
}

func TestExecuteDeliversEveryEventBeyondBuffer(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())

	timing := testTiming()
	timing.StallWindow = 10 * time.Second

	s, err := Attach(conn, timing)
	require.NoError(t, err)

	const total = 600
	go func() {
		for i := 0; i < total; i++ {
			conn.push(wire.Event("run-1", contract.NewAssistantMessage("chunk")))
		}
		conn.push(wire.Final("run-1", testReceipt("run-1")))
	}()

	run, err := s.Execute(context.Background(), "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	var count int
	for range run.Events() {
		count++
	}
	assert.Equal(t, total, count)

	_, err = run.Wait(context.Background())
	require.NoError(t, err)
}

func TestExecuteWorkerFatal(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())
	s, err := Attach(conn, testTiming())
	require.NoError(t, err)

	conn.push(wire.Fatal("run-1", "out of memory"))

	run, err := s.Execute(context.Background(), "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	_, err = run.Wait(context.Background())
	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "out of memory", fe.Message)
	assert.Equal(t, StateFatal, s.State())
}

func TestExecuteWorkerExitMidRun(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())
	s, err := Attach(conn, testTiming())
	require.NoError(t, err)

	conn.exitCode = 137
	conn.push(wire.Event("run-1", contract.NewRunStarted("go")))
	conn.closeStream()

	run, err := s.Execute(context.Background(), "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	_, err = run.Wait(context.Background())
	var ee *ExitedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 137, ee.Code)
	assert.Equal(t, StateExited, s.State())
}

func TestExecuteStallDetection(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())

	timing := testTiming()
	timing.HeartbeatInterval = 10 * time.Millisecond
	timing.StallWindow = 50 * time.Millisecond

	s, err := Attach(conn, timing)
	require.NoError(t, err)

	// Push nothing: the worker goes silent after the handshake.
	run, err := s.Execute(context.Background(), "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = run.Wait(waitCtx)

	var se *StallError
	require.True(t, errors.As(err, &se))
}

func TestExecuteCancelSendsEnvelopeThenKills(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())

	timing := testTiming()
	timing.StallWindow = 10 * time.Second // keep stall detection out of the way

	s, err := Attach(conn, timing)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	run, err := s.Execute(ctx, "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	_, err = run.Wait(waitCtx)
	require.Error(t, err)

	assert.Contains(t, conn.sentKinds(), wire.KindCancel)
}

func TestExecuteCancelGraceAllowsFinal(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())

	timing := testTiming()
	timing.StallWindow = 10 * time.Second
	timing.CancelGrace = time.Second

	s, err := Attach(conn, timing)
	require.NoError(t, err)

	// The worker answers cancellation with a final receipt.
	conn.onSend = func(env wire.Envelope) {
		if env.T == wire.KindCancel {
			r := testReceipt("run-1")
			r.Outcome = contract.OutcomeCancelled
			conn.push(wire.Final("run-1", r))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	run, err := s.Execute(ctx, "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)

	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	receipt, err := run.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, contract.OutcomeCancelled, receipt.Outcome)
}

func TestExecuteOnNonIdleSessionFails(t *testing.T) {
	conn := newFakeConn()
	conn.push(helloEnvelope())
	s, err := Attach(conn, testTiming())
	require.NoError(t, err)

	conn.push(wire.Final("run-1", testReceipt("run-1")))
	run, err := s.Execute(context.Background(), "run-1", contract.NewWorkOrder("task").Build())
	require.NoError(t, err)
	_, err = run.Wait(context.Background())
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), "run-2", contract.NewWorkOrder("task").Build())
	assert.ErrorIs(t, err, ErrNotIdle)
}

func TestStateMachineRejectsInvalidTransitions(t *testing.T) {
	sm := newStateMachine()
	assert.Equal(t, StateSpawned, sm.current())

	require.Error(t, sm.transition(StateRunning, ""))
	require.NoError(t, sm.transition(StateAwaitingHello, ""))
	require.NoError(t, sm.transition(StateIdle, ""))
	require.NoError(t, sm.transition(StateRunning, ""))
	require.NoError(t, sm.transition(StateComplete, ""))

	// Terminal states admit nothing further.
	require.Error(t, sm.transition(StateFatal, ""))
	assert.Len(t, sm.transitions(), 4)
}
