// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to the log.levels config keys.
// These ensure consistent logger names across the codebase

// GetOrchestratorLogger returns a logger for run orchestration
func GetOrchestratorLogger() zerolog.Logger {
	return GetLogger("orchestrator")
}

// GetWorkerLogger returns a logger for sidecar process supervision
func GetWorkerLogger() zerolog.Logger {
	return GetLogger("worker")
}

// GetProjectionLogger returns a logger for backend selection
func GetProjectionLogger() zerolog.Logger {
	return GetLogger("projection")
}

// GetServerLogger returns a logger for the HTTP API
func GetServerLogger() zerolog.Logger {
	return GetLogger("server")
}

// GetStoreLogger returns a logger for receipt persistence
func GetStoreLogger() zerolog.Logger {
	return GetLogger("store")
}

// GetWorkspaceLogger returns a logger for workspace preparation
func GetWorkspaceLogger() zerolog.Logger {
	return GetLogger("workspace")
}

// GetSidecarLogger returns a logger for worker-side protocol handling
func GetSidecarLogger() zerolog.Logger {
	return GetLogger("sidecar")
}
