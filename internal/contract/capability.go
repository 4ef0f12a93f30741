// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package contract defines the stable data contract of the backplane:
// work orders, capabilities, events, and receipts. Every other package
// builds on these types; nothing in here performs I/O.
package contract

import "sort"

// Version is the contract version embedded in wire messages and receipts.
// Format: "<namespace>/v<major>.<minor>".
const Version = "abp/v0.1"

// Capability is a discrete feature a backend may support (tools, hooks,
// session handling, etc.). The set is closed — extend by adding constants.
type Capability string

// Known capabilities.
const (
	CapStreaming        Capability = "streaming"
	CapToolRead         Capability = "tool_read"
	CapToolWrite        Capability = "tool_write"
	CapToolEdit         Capability = "tool_edit"
	CapToolBash         Capability = "tool_bash"
	CapToolGlob         Capability = "tool_glob"
	CapToolGrep         Capability = "tool_grep"
	CapToolWebSearch    Capability = "tool_web_search"
	CapToolWebFetch     Capability = "tool_web_fetch"
	CapToolUse          Capability = "tool_use"
	CapHooksPreToolUse  Capability = "hooks_pre_tool_use"
	CapHooksPostToolUse Capability = "hooks_post_tool_use"
	CapSessionResume    Capability = "session_resume"
	CapSessionFork      Capability = "session_fork"
	CapCheckpointing    Capability = "checkpointing"
	CapStructuredOutput Capability = "structured_output_json_schema"
	CapMcpClient        Capability = "mcp_client"
	CapMcpServer        Capability = "mcp_server"
	CapExtendedThinking Capability = "extended_thinking"
	CapImageInput       Capability = "image_input"
	CapCodeExecution    Capability = "code_execution"
	CapLogprobs         Capability = "logprobs"
)

// SupportKind is how well a backend supports a capability.
type SupportKind string

// Support kinds, from strongest to weakest.
const (
	SupportNative      SupportKind = "native"
	SupportEmulated    SupportKind = "emulated"
	SupportRestricted  SupportKind = "restricted"
	SupportUnsupported SupportKind = "unsupported"
)

// SupportGrant is a manifest entry: the support kind plus, for restricted
// capabilities, a human-readable reason.
type SupportGrant struct {
	Kind   SupportKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

// Native is a shorthand grant for natively supported capabilities.
func Native() SupportGrant { return SupportGrant{Kind: SupportNative} }

// Emulated is a shorthand grant for adapter-backed capabilities.
func Emulated() SupportGrant { return SupportGrant{Kind: SupportEmulated} }

// Restricted is a shorthand grant for policy-limited capabilities.
func Restricted(reason string) SupportGrant {
	return SupportGrant{Kind: SupportRestricted, Reason: reason}
}

// Unsupported is a shorthand grant for absent capabilities.
func Unsupported() SupportGrant { return SupportGrant{Kind: SupportUnsupported} }

// MinSupport is the minimum acceptable support level in a requirement.
type MinSupport string

const (
	// MinNative accepts only native support.
	MinNative MinSupport = "native"
	// MinEmulated accepts native, emulated, or restricted support.
	MinEmulated MinSupport = "emulated"
)

// Satisfies reports whether this grant meets or exceeds the minimum.
// Restricted counts as emulated: the capability works, with caveats.
func (g SupportGrant) Satisfies(min MinSupport) bool {
	switch min {
	case MinNative:
		return g.Kind == SupportNative
	case MinEmulated:
		return g.Kind == SupportNative || g.Kind == SupportEmulated || g.Kind == SupportRestricted
	default:
		return false
	}
}

// CapabilityManifest maps capabilities to their support grants for one
// backend. JSON serialization is deterministic: encoding/json emits map
// keys in sorted order, which the receipt hash relies on.
type CapabilityManifest map[Capability]SupportGrant

// Keys returns the manifest's capabilities in sorted order.
func (m CapabilityManifest) Keys() []Capability {
	keys := make([]Capability, 0, len(m))
	for cap := range m {
		keys = append(keys, cap)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clone returns a shallow copy of the manifest.
func (m CapabilityManifest) Clone() CapabilityManifest {
	out := make(CapabilityManifest, len(m))
	for cap, grant := range m {
		out[cap] = grant
	}
	return out
}

// CapabilityRequirement pairs a capability with its minimum support level.
type CapabilityRequirement struct {
	Capability Capability `json:"capability"`
	MinSupport MinSupport `json:"min_support"`
}

// CapabilityRequirements is the set of capabilities a work order demands.
type CapabilityRequirements struct {
	Required []CapabilityRequirement `json:"required"`
}

// Require builds a requirements set at a uniform minimum level.
func Require(min MinSupport, caps ...Capability) CapabilityRequirements {
	reqs := CapabilityRequirements{Required: make([]CapabilityRequirement, 0, len(caps))}
	for _, c := range caps {
		reqs.Required = append(reqs.Required, CapabilityRequirement{Capability: c, MinSupport: min})
	}
	return reqs
}
