// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dialect models the agent-protocol dialects backends speak and
// the fidelity of translating features between them.
package dialect

import "strings"

// Dialect identifies an agent-protocol dialect.
type Dialect string

const (
	OpenAI  Dialect = "openai"
	Claude  Dialect = "claude"
	Gemini  Dialect = "gemini"
	Codex   Dialect = "codex"
	Kimi    Dialect = "kimi"
	Copilot Dialect = "copilot"
)

// All returns the known dialects in stable order.
func All() []Dialect {
	return []Dialect{OpenAI, Claude, Gemini, Codex, Kimi, Copilot}
}

// Label returns the human-readable name of the dialect.
func (d Dialect) Label() string {
	switch d {
	case OpenAI:
		return "OpenAI"
	case Claude:
		return "Claude"
	case Gemini:
		return "Gemini"
	case Codex:
		return "Codex"
	case Kimi:
		return "Kimi"
	case Copilot:
		return "Copilot"
	default:
		return string(d)
	}
}

// Parse maps a dialect name to its Dialect. The second return is false
// for unknown names.
func Parse(s string) (Dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "open_ai":
		return OpenAI, true
	case "claude":
		return Claude, true
	case "gemini":
		return Gemini, true
	case "codex":
		return Codex, true
	case "kimi":
		return Kimi, true
	case "copilot":
		return Copilot, true
	default:
		return "", false
	}
}
