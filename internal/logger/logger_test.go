// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
)

func TestNewManager(t *testing.T) {
	tests := []struct {
		name        string
		config      *config.LogConfig
		expectError bool
	}{
		{
			name: "console_output",
			config: &config.LogConfig{
				Level:  "info",
				Format: "json",
				Output: []config.LogOutputConfig{
					{Type: "console", Enabled: true},
				},
				Context: config.LogContextConfig{IncludeTimestamp: true},
			},
		},
		{
			name: "file_output",
			config: &config.LogConfig{
				Level:  "debug",
				Format: "json",
				Output: []config.LogOutputConfig{
					{Type: "file", Enabled: true, Path: filepath.Join(t.TempDir(), "test.log")},
				},
				Context: config.LogContextConfig{IncludeTimestamp: true},
			},
		},
		{
			name: "rotating_file_output",
			config: &config.LogConfig{
				Level:  "warn",
				Format: "json",
				Output: []config.LogOutputConfig{
					{
						Type:    "file",
						Enabled: true,
						Path:    filepath.Join(t.TempDir(), "rotate.log"),
						Rotate:  config.LogRotateConfig{MaxSizeMB: 10, MaxBackups: 2},
					},
				},
			},
		},
		{
			name: "unknown_output_type",
			config: &config.LogConfig{
				Level:  "info",
				Format: "json",
				Output: []config.LogOutputConfig{
					{Type: "syslog", Enabled: true},
				},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer m.Close()
		})
	}
}

func TestGetLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	m, err := NewManager(&config.LogConfig{
		Level:  "debug",
		Format: "json",
		Output: []config.LogOutputConfig{
			{Type: "file", Enabled: true, Path: path},
		},
		Context: config.LogContextConfig{IncludeTimestamp: true},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	log := m.GetLogger("worker")
	log.Info().Str("run_id", "r1").Msg("run started")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["pkg"] != "worker" {
		t.Errorf("expected pkg=worker, got %v", entry["pkg"])
	}
	if entry["run_id"] != "r1" {
		t.Errorf("expected run_id=r1, got %v", entry["run_id"])
	}
}

func TestPerPackageLevels(t *testing.T) {
	m, err := NewManager(&config.LogConfig{
		Level:  "info",
		Format: "json",
		Output: []config.LogOutputConfig{
			{Type: "file", Enabled: true, Path: filepath.Join(t.TempDir(), "lvl.log")},
		},
		Levels: map[string]string{"projection": "error"},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if got := m.GetLogger("projection").GetLevel(); got != zerolog.ErrorLevel {
		t.Errorf("expected error level for projection, got %v", got)
	}
	if got := m.GetLogger("worker").GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("expected info level for worker, got %v", got)
	}
}

func TestSetPackageLevel(t *testing.T) {
	m, err := NewManager(&config.LogConfig{
		Level:  "info",
		Format: "json",
		Output: []config.LogOutputConfig{
			{Type: "file", Enabled: true, Path: filepath.Join(t.TempDir(), "dyn.log")},
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	_ = m.GetLogger("store")
	m.SetPackageLevel("store", "debug")

	if got := m.GetLogger("store").GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("expected debug level after SetPackageLevel, got %v", got)
	}
}

func TestUninitializedGlobalReturnsDiscard(t *testing.T) {
	// Must not panic even when Initialize was never called.
	log := GetLogger("anything")
	log.Info().Msg("goes nowhere")
}
