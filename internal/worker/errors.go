// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"errors"
	"fmt"
)

// ErrNotIdle is returned when a run is requested on a session that is
// not ready to accept work.
var ErrNotIdle = errors.New("session is not idle")

// SpawnError wraps a failure to start the worker process.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("failed to spawn worker: %v", e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// ViolationError reports a worker that broke the wire protocol.
type ViolationError struct {
	Detail string
}

func (e *ViolationError) Error() string { return fmt.Sprintf("worker protocol violation: %s", e.Detail) }

// VersionError reports a contract version the host cannot speak.
type VersionError struct {
	Local  string
	Remote string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("incompatible contract versions: local %s, worker %s", e.Local, e.Remote)
}

// FatalError carries a worker-reported unrecoverable error.
type FatalError struct {
	RefID   string
	Message string
}

func (e *FatalError) Error() string { return fmt.Sprintf("worker fatal error: %s", e.Message) }

// ExitedError reports a worker process that exited before finishing its
// run.
type ExitedError struct {
	Code int
}

func (e *ExitedError) Error() string {
	return fmt.Sprintf("worker exited unexpectedly (code=%d)", e.Code)
}

// StallError reports a worker that stopped responding to heartbeats.
type StallError struct {
	Window string
}

func (e *StallError) Error() string {
	return fmt.Sprintf("worker stalled: no activity within %s", e.Window)
}
