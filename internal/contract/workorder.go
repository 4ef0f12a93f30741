// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package contract

import "github.com/google/uuid"

// WorkOrder is one unit of work. It is intentionally not a chat session:
// sessions may exist underneath, but the contract is step-oriented.
// A work order is immutable once dispatched.
type WorkOrder struct {
	ID string `json:"id"`

	// Task is the human intent.
	Task string `json:"task"`

	// Lane selects how the agent is allowed to produce output.
	Lane ExecutionLane `json:"lane"`

	Workspace    WorkspaceSpec          `json:"workspace"`
	Context      ContextPacket          `json:"context"`
	Policy       PolicyProfile          `json:"policy"`
	Requirements CapabilityRequirements `json:"requirements"`
	Config       RuntimeConfig          `json:"config"`
}

// ExecutionLane is the strategy for how the agent produces its output.
type ExecutionLane string

const (
	// LanePatchFirst: the agent proposes a patch, no direct repo mutation.
	LanePatchFirst ExecutionLane = "patch_first"
	// LaneWorkspaceFirst: the agent mutates a (usually staged) workspace.
	LaneWorkspaceFirst ExecutionLane = "workspace_first"
)

// WorkspaceSpec describes the workspace root, staging mode, and globs.
type WorkspaceSpec struct {
	Root    string        `json:"root"`
	Mode    WorkspaceMode `json:"mode"`
	Include []string      `json:"include,omitempty"`
	Exclude []string      `json:"exclude,omitempty"`
}

// WorkspaceMode is how the runtime treats the workspace before a run.
type WorkspaceMode string

const (
	// WorkspacePassThrough uses the workspace as-is.
	WorkspacePassThrough WorkspaceMode = "pass_through"
	// WorkspaceStaged copies the workspace before running tools.
	WorkspaceStaged WorkspaceMode = "staged"
)

// ContextPacket holds pre-loaded context files and snippets.
type ContextPacket struct {
	Files    []string         `json:"files,omitempty"`
	Snippets []ContextSnippet `json:"snippets,omitempty"`
}

// ContextSnippet is a named text fragment included in a ContextPacket.
type ContextSnippet struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// PolicyProfile is the security policy for a run. An empty profile
// permits everything.
type PolicyProfile struct {
	AllowedTools       []string `json:"allowed_tools,omitempty"`
	DisallowedTools    []string `json:"disallowed_tools,omitempty"`
	DenyRead           []string `json:"deny_read,omitempty"`
	DenyWrite          []string `json:"deny_write,omitempty"`
	AllowNetwork       []string `json:"allow_network,omitempty"`
	DenyNetwork        []string `json:"deny_network,omitempty"`
	RequireApprovalFor []string `json:"require_approval_for,omitempty"`
}

// RuntimeConfig holds runtime-level knobs: model selection, vendor flags,
// budget caps. Vendor is opaque to the core — only dialect adapters may
// interpret its keys.
type RuntimeConfig struct {
	Model        string            `json:"model,omitempty"`
	Vendor       map[string]any    `json:"vendor,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	MaxBudgetUSD float64           `json:"max_budget_usd,omitempty"`
	MaxTurns     int               `json:"max_turns,omitempty"`
}

// ExecutionMode is how the backplane processes a request.
type ExecutionMode string

const (
	// ModePassthrough forwards requests without cross-dialect translation.
	ModePassthrough ExecutionMode = "passthrough"
	// ModeMapped translates requests between dialects.
	ModeMapped ExecutionMode = "mapped"
)

// VendorNamespace is the key under RuntimeConfig.Vendor reserved for
// backplane-level hints (mode, source_dialect).
const VendorNamespace = "abp"

// RequestedMode reads the execution mode hint from the vendor config,
// defaulting to mapped.
func (w *WorkOrder) RequestedMode() ExecutionMode {
	if ns, ok := w.Config.Vendor[VendorNamespace].(map[string]any); ok {
		if m, ok := ns["mode"].(string); ok && ExecutionMode(m) == ModePassthrough {
			return ModePassthrough
		}
	}
	return ModeMapped
}

// SourceDialectHint reads the declared source dialect from the vendor
// config, or "" when absent.
func (w *WorkOrder) SourceDialectHint() string {
	if ns, ok := w.Config.Vendor[VendorNamespace].(map[string]any); ok {
		if d, ok := ns["source_dialect"].(string); ok {
			return d
		}
	}
	return ""
}

// WorkOrderBuilder constructs WorkOrders with sensible defaults.
type WorkOrderBuilder struct {
	wo WorkOrder
}

// NewWorkOrder starts a builder for the given task text.
func NewWorkOrder(task string) *WorkOrderBuilder {
	return &WorkOrderBuilder{wo: WorkOrder{
		ID:   uuid.NewString(),
		Task: task,
		Lane: LanePatchFirst,
		Workspace: WorkspaceSpec{
			Root: ".",
			Mode: WorkspaceStaged,
		},
	}}
}

// Lane sets the execution lane.
func (b *WorkOrderBuilder) Lane(lane ExecutionLane) *WorkOrderBuilder {
	b.wo.Lane = lane
	return b
}

// Root sets the workspace root.
func (b *WorkOrderBuilder) Root(root string) *WorkOrderBuilder {
	b.wo.Workspace.Root = root
	return b
}

// WorkspaceMode sets the staging mode.
func (b *WorkOrderBuilder) WorkspaceMode(mode WorkspaceMode) *WorkOrderBuilder {
	b.wo.Workspace.Mode = mode
	return b
}

// Include sets the workspace include globs.
func (b *WorkOrderBuilder) Include(globs ...string) *WorkOrderBuilder {
	b.wo.Workspace.Include = globs
	return b
}

// Exclude sets the workspace exclude globs.
func (b *WorkOrderBuilder) Exclude(globs ...string) *WorkOrderBuilder {
	b.wo.Workspace.Exclude = globs
	return b
}

// Requirements sets the capability requirements.
func (b *WorkOrderBuilder) Requirements(reqs CapabilityRequirements) *WorkOrderBuilder {
	b.wo.Requirements = reqs
	return b
}

// Policy sets the security policy.
func (b *WorkOrderBuilder) Policy(p PolicyProfile) *WorkOrderBuilder {
	b.wo.Policy = p
	return b
}

// Model sets the preferred model identifier.
func (b *WorkOrderBuilder) Model(model string) *WorkOrderBuilder {
	b.wo.Config.Model = model
	return b
}

// MaxTurns caps the number of agent turns (best-effort).
func (b *WorkOrderBuilder) MaxTurns(n int) *WorkOrderBuilder {
	b.wo.Config.MaxTurns = n
	return b
}

// Vendor sets one vendor-config namespace verbatim.
func (b *WorkOrderBuilder) Vendor(ns string, value any) *WorkOrderBuilder {
	if b.wo.Config.Vendor == nil {
		b.wo.Config.Vendor = make(map[string]any)
	}
	b.wo.Config.Vendor[ns] = value
	return b
}

// Build finalizes and returns the work order.
func (b *WorkOrderBuilder) Build() WorkOrder {
	return b.wo
}
