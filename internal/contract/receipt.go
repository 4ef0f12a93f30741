// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package contract

import (
	"encoding/json"
	"time"
)

// Outcome is the terminal disposition of a run.
type Outcome string

const (
	OutcomeComplete  Outcome = "complete"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// BackendIdentity names the backend that executed a run.
type BackendIdentity struct {
	ID      string `json:"id"`
	Dialect string `json:"dialect"`
	Version string `json:"version,omitempty"`
}

// RunMetadata records identity and timing for a run.
type RunMetadata struct {
	RunID       string    `json:"run_id"`
	WorkOrderID string    `json:"work_order_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Duration    int64     `json:"duration_ms"`
}

// UsageNormalized is token and cost accounting in backplane-standard
// units, derived from UsageRaw by the executing adapter.
type UsageNormalized struct {
	InputTokens       int64    `json:"input_tokens"`
	OutputTokens      int64    `json:"output_tokens"`
	CacheReadTokens   int64    `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens  int64    `json:"cache_write_tokens,omitempty"`
	Turns             int      `json:"turns,omitempty"`
	TotalCostUSD      *float64 `json:"total_cost_usd,omitempty"`
	CostConfidence    string   `json:"cost_confidence,omitempty"`
}

// ArtifactRef points to a file the run produced or modified.
type ArtifactRef struct {
	Path   string `json:"path"`
	Kind   string `json:"kind,omitempty"`
	Size   int64  `json:"size_bytes,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}

// VerificationReport captures the post-run workspace inspection.
type VerificationReport struct {
	GitDiffSummary string   `json:"git_diff_summary,omitempty"`
	FilesChanged   []string `json:"files_changed,omitempty"`
	Clean          bool     `json:"clean"`
	Notes          []string `json:"notes,omitempty"`
}

// Receipt is the canonical record of a completed run. Its hash covers
// every field with receipt_sha256 itself nulled out, so any mutation
// after sealing is detectable.
type Receipt struct {
	Meta          RunMetadata                `json:"meta"`
	Backend       BackendIdentity            `json:"backend"`
	Capabilities  CapabilityManifest         `json:"capabilities,omitempty"`
	Mode          ExecutionMode              `json:"mode"`
	UsageRaw      map[string]json.RawMessage `json:"usage_raw,omitempty"`
	Usage         UsageNormalized            `json:"usage"`
	Trace         []AgentEvent               `json:"trace"`
	Artifacts     []ArtifactRef              `json:"artifacts,omitempty"`
	Verification  *VerificationReport        `json:"verification,omitempty"`
	Outcome       Outcome                    `json:"outcome"`
	Error         string                     `json:"error,omitempty"`
	ReceiptSHA256 *string                    `json:"receipt_sha256"`
}

// ReceiptBuilder accumulates run state and seals it into a Receipt.
type ReceiptBuilder struct {
	receipt Receipt
	started time.Time
}

// NewReceipt starts a receipt for the given work order and backend,
// stamping the start time now.
func NewReceipt(workOrderID, runID string, backend BackendIdentity) *ReceiptBuilder {
	now := time.Now().UTC()
	return &ReceiptBuilder{
		started: now,
		receipt: Receipt{
			Meta: RunMetadata{
				RunID:       runID,
				WorkOrderID: workOrderID,
				StartedAt:   now,
			},
			Backend: backend,
			Mode:    ModeMapped,
			Trace:   []AgentEvent{},
		},
	}
}

func (b *ReceiptBuilder) Mode(mode ExecutionMode) *ReceiptBuilder {
	b.receipt.Mode = mode
	return b
}

func (b *ReceiptBuilder) Capabilities(m CapabilityManifest) *ReceiptBuilder {
	b.receipt.Capabilities = m.Clone()
	return b
}

func (b *ReceiptBuilder) Event(ev AgentEvent) *ReceiptBuilder {
	b.receipt.Trace = append(b.receipt.Trace, ev)
	return b
}

func (b *ReceiptBuilder) Events(evs []AgentEvent) *ReceiptBuilder {
	b.receipt.Trace = append(b.receipt.Trace, evs...)
	return b
}

func (b *ReceiptBuilder) Usage(u UsageNormalized) *ReceiptBuilder {
	b.receipt.Usage = u
	return b
}

func (b *ReceiptBuilder) UsageRaw(raw map[string]json.RawMessage) *ReceiptBuilder {
	b.receipt.UsageRaw = raw
	return b
}

func (b *ReceiptBuilder) Artifact(a ArtifactRef) *ReceiptBuilder {
	b.receipt.Artifacts = append(b.receipt.Artifacts, a)
	return b
}

func (b *ReceiptBuilder) Verification(v *VerificationReport) *ReceiptBuilder {
	b.receipt.Verification = v
	return b
}

func (b *ReceiptBuilder) Outcome(o Outcome) *ReceiptBuilder {
	b.receipt.Outcome = o
	return b
}

func (b *ReceiptBuilder) Error(msg string) *ReceiptBuilder {
	b.receipt.Error = msg
	return b
}

// Seal stamps the finish time and returns the receipt without a hash.
// Callers apply WithHash as the final step.
func (b *ReceiptBuilder) Seal() Receipt {
	now := time.Now().UTC()
	b.receipt.Meta.FinishedAt = now
	b.receipt.Meta.Duration = now.Sub(b.started).Milliseconds()
	return b.receipt
}
