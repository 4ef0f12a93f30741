// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package contract

import (
	"encoding/json"
	"time"
)

// EventType discriminates AgentEvent payloads.
type EventType string

// Event types emitted by backends during a run.
const (
	EventRunStarted       EventType = "run_started"
	EventRunCompleted     EventType = "run_completed"
	EventAssistantDelta   EventType = "assistant_delta"
	EventAssistantMessage EventType = "assistant_message"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventFileChanged      EventType = "file_changed"
	EventCommandExecuted  EventType = "command_executed"
	EventWarning          EventType = "warning"
	EventError            EventType = "error"
)

// AgentEvent is a timestamped event emitted by an agent during a run.
// The Type field selects which payload fields are meaningful; unused
// fields are omitted from serialization so the canonical form stays
// stable across event kinds.
type AgentEvent struct {
	TS   time.Time `json:"ts"`
	Type EventType `json:"type"`

	// Message text for run_started / run_completed / warning / error.
	Message string `json:"message,omitempty"`

	// Text for assistant_delta / assistant_message.
	Text string `json:"text,omitempty"`

	// Tool fields for tool_call / tool_result.
	ToolName  string          `json:"tool_name,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// File fields for file_changed.
	Path    string `json:"path,omitempty"`
	Summary string `json:"summary,omitempty"`

	// Command fields for command_executed.
	Command       string `json:"command,omitempty"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	OutputPreview string `json:"output_preview,omitempty"`

	// Ext carries passthrough-mode raw vendor data, untouched by the core.
	Ext map[string]json.RawMessage `json:"ext,omitempty"`
}

// NewRunStarted builds a run_started event stamped now.
func NewRunStarted(message string) AgentEvent {
	return AgentEvent{TS: time.Now().UTC(), Type: EventRunStarted, Message: message}
}

// NewRunCompleted builds a run_completed event stamped now.
func NewRunCompleted(message string) AgentEvent {
	return AgentEvent{TS: time.Now().UTC(), Type: EventRunCompleted, Message: message}
}

// NewAssistantMessage builds an assistant_message event stamped now.
func NewAssistantMessage(text string) AgentEvent {
	return AgentEvent{TS: time.Now().UTC(), Type: EventAssistantMessage, Text: text}
}

// NewWarning builds a warning event stamped now.
func NewWarning(message string) AgentEvent {
	return AgentEvent{TS: time.Now().UTC(), Type: EventWarning, Message: message}
}

// NewError builds an error event stamped now.
func NewError(message string) AgentEvent {
	return AgentEvent{TS: time.Now().UTC(), Type: EventError, Message: message}
}
