// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a supervised worker.
type State string

const (
	// StateSpawned means the process started but has not spoken yet.
	StateSpawned State = "spawned"
	// StateAwaitingHello means the host is waiting for the handshake.
	StateAwaitingHello State = "awaiting_hello"
	// StateIdle means the handshake completed and the worker can accept
	// a run.
	StateIdle State = "idle"
	// StateRunning means a work order is executing.
	StateRunning State = "running"
	// StateComplete means the run finished with a receipt.
	StateComplete State = "complete"
	// StateFatal means the worker reported an unrecoverable error or
	// violated the protocol.
	StateFatal State = "fatal"
	// StateExited means the process ended without delivering a receipt.
	StateExited State = "exited"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateFatal, StateExited:
		return true
	}
	return false
}

// Transition records one state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// stateMachine tracks worker state and enforces valid transitions.
type stateMachine struct {
	mu      sync.Mutex
	state   State
	history []Transition
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateSpawned}
}

func (m *stateMachine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves to a new state. Fatal and Exited are reachable from
// any non-terminal state; other transitions follow the ladder.
func (m *stateMachine) transition(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Terminal() {
		return fmt.Errorf("invalid transition from terminal state %s to %s", m.state, to)
	}

	valid := to == StateFatal || to == StateExited
	if !valid {
		switch {
		case m.state == StateSpawned && to == StateAwaitingHello:
			valid = true
		case m.state == StateAwaitingHello && to == StateIdle:
			valid = true
		case m.state == StateIdle && to == StateRunning:
			valid = true
		case m.state == StateRunning && to == StateComplete:
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("invalid transition from %s to %s", m.state, to)
	}

	m.history = append(m.history, Transition{
		From:   m.state,
		To:     to,
		At:     time.Now().UTC(),
		Reason: reason,
	})
	m.state = to
	return nil
}

func (m *stateMachine) transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}
