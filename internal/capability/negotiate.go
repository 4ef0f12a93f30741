// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package capability negotiates work-order requirements against backend
// capability manifests, producing per-capability classifications and
// human-readable compatibility reports.
package capability

import (
	"fmt"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
)

// Fulfillment describes how a single capability would be provided after
// negotiation: natively, through an emulation strategy, or not at all.
type Fulfillment struct {
	Level    string `json:"level"`
	Strategy string `json:"strategy,omitempty"`
}

const (
	LevelNative      = "native"
	LevelEmulated    = "emulated"
	LevelUnsupported = "unsupported"
)

// Result buckets the required capabilities by how the manifest can
// fulfil them.
type Result struct {
	Native      []contract.Capability `json:"native"`
	Emulatable  []contract.Capability `json:"emulatable"`
	Unsupported []contract.Capability `json:"unsupported"`
}

// IsCompatible reports whether every required capability is native or
// emulatable.
func (r Result) IsCompatible() bool {
	return len(r.Unsupported) == 0
}

// Total returns the number of capabilities evaluated.
func (r Result) Total() int {
	return len(r.Native) + len(r.Emulatable) + len(r.Unsupported)
}

// Report is a human-readable summary of a negotiation outcome.
type Report struct {
	Compatible       bool               `json:"compatible"`
	NativeCount      int                `json:"native_count"`
	EmulatedCount    int                `json:"emulated_count"`
	UnsupportedCount int                `json:"unsupported_count"`
	Summary          string             `json:"summary"`
	Details          []CapabilityDetail `json:"details"`
}

// CapabilityDetail pairs a capability with its fulfillment level.
type CapabilityDetail struct {
	Capability  contract.Capability `json:"capability"`
	Fulfillment Fulfillment         `json:"fulfillment"`
}

// Check classifies a single requirement against a manifest. The grant
// must satisfy the requirement's minimum level: a native grant classifies
// as native; emulated and restricted grants classify as emulatable when
// the minimum is emulated, restricted carrying its reason in the
// strategy. Grants below the minimum, absent capabilities, and
// unsupported grants classify as unsupported. A requirement with no
// minimum defaults to emulated.
func Check(manifest contract.CapabilityManifest, req contract.CapabilityRequirement) Fulfillment {
	min := req.MinSupport
	if min == "" {
		min = contract.MinEmulated
	}
	grant, ok := manifest[req.Capability]
	if !ok || !grant.Satisfies(min) {
		return Fulfillment{Level: LevelUnsupported}
	}
	switch grant.Kind {
	case contract.SupportNative:
		return Fulfillment{Level: LevelNative}
	case contract.SupportEmulated:
		return Fulfillment{Level: LevelEmulated, Strategy: "adapter"}
	case contract.SupportRestricted:
		return Fulfillment{Level: LevelEmulated, Strategy: fmt.Sprintf("restricted: %s", grant.Reason)}
	default:
		return Fulfillment{Level: LevelUnsupported}
	}
}

// Negotiate classifies every required capability via Check and buckets
// the outcomes. Requirement order is preserved within each bucket.
func Negotiate(manifest contract.CapabilityManifest, reqs contract.CapabilityRequirements) Result {
	res := Result{
		Native:      []contract.Capability{},
		Emulatable:  []contract.Capability{},
		Unsupported: []contract.Capability{},
	}
	for _, req := range reqs.Required {
		switch Check(manifest, req).Level {
		case LevelNative:
			res.Native = append(res.Native, req.Capability)
		case LevelEmulated:
			res.Emulatable = append(res.Emulatable, req.Capability)
		default:
			res.Unsupported = append(res.Unsupported, req.Capability)
		}
	}
	return res
}

// GenerateReport renders a negotiation result into a Report.
func GenerateReport(res Result) Report {
	details := make([]CapabilityDetail, 0, res.Total())
	for _, cap := range res.Native {
		details = append(details, CapabilityDetail{Capability: cap, Fulfillment: Fulfillment{Level: LevelNative}})
	}
	for _, cap := range res.Emulatable {
		details = append(details, CapabilityDetail{Capability: cap, Fulfillment: Fulfillment{Level: LevelEmulated, Strategy: "adapter"}})
	}
	for _, cap := range res.Unsupported {
		details = append(details, CapabilityDetail{Capability: cap, Fulfillment: Fulfillment{Level: LevelUnsupported}})
	}

	verdict := "incompatible"
	if res.IsCompatible() {
		verdict = "fully compatible"
	}
	summary := fmt.Sprintf("%d native, %d emulatable, %d unsupported: %s",
		len(res.Native), len(res.Emulatable), len(res.Unsupported), verdict)

	return Report{
		Compatible:       res.IsCompatible(),
		NativeCount:      len(res.Native),
		EmulatedCount:    len(res.Emulatable),
		UnsupportedCount: len(res.Unsupported),
		Summary:          summary,
		Details:          details,
	}
}
