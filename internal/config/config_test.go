// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultsApplyWithoutFile(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Log.Level)
	assert.Equal(t, 8087, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Worker.CancelGrace)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: DEBUG
server:
  port: 9999
worker:
  heartbeat_interval: 2s
  stall_window: 20s
`)
	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 20*time.Second, cfg.Worker.StallWindow)
}

func TestBackendsParse(t *testing.T) {
	path := writeConfig(t, `
backends:
  - id: claude-worker
    kind: worker
    dialect: claude
    priority: 80
    command: /usr/local/bin/claude-sidecar
    capabilities:
      streaming: native
      tool_bash: "restricted:sandbox only"
  - id: mock
    kind: mock
    dialect: openai
    priority: 10
`)
	cfg, err := NewConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "claude-worker", cfg.Backends[0].ID)
	assert.Equal(t, uint32(80), cfg.Backends[0].Priority)
	assert.Equal(t, "native", cfg.Backends[0].Capabilities["streaming"])
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, "log:\n  level: LOUD\n")
	_, err := NewConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestValidateRejectsBadPort(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 123456\n")
	_, err := NewConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}

func TestValidateRejectsDuplicateBackends(t *testing.T) {
	path := writeConfig(t, `
backends:
  - id: dup
    kind: mock
  - id: dup
    kind: mock
`)
	_, err := NewConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate backend id")
}

func TestValidateRejectsWorkerWithoutCommand(t *testing.T) {
	path := writeConfig(t, `
backends:
  - id: broken
    kind: worker
`)
	_, err := NewConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestValidateRejectsStallWindowBelowHeartbeat(t *testing.T) {
	path := writeConfig(t, `
worker:
  heartbeat_interval: 10s
  stall_window: 5s
`)
	_, err := NewConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stall_window")
}

func TestPostgresDSN(t *testing.T) {
	dc := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		Username: "abp", Password: "secret", Database: "receipts", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=abp password=secret dbname=receipts sslmode=disable",
		dc.GetDSN())
}
