// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package projection routes work orders to the best-fit backend by
// combining capability negotiation, cross-dialect mapping fidelity, and
// operator-assigned priority into a composite score.
package projection

import (
	"errors"
	"fmt"
	"sort"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/capability"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/dialect"
)

// ErrEmptyMatrix is returned when projecting against a matrix with no
// registered backends.
var ErrEmptyMatrix = errors.New("projection matrix is empty: no backends registered")

// NoSuitableBackendError is returned when no registered backend can
// satisfy any of the work order's requirements.
type NoSuitableBackendError struct {
	Reason string
}

func (e *NoSuitableBackendError) Error() string {
	return fmt.Sprintf("no suitable backend for work order: %s", e.Reason)
}

// Score weights. Capability coverage dominates, mapping fidelity and
// priority break the remaining ground.
const (
	weightCapability = 0.5
	weightFidelity   = 0.3
	weightPriority   = 0.2

	// Bonus applied to a same-dialect backend when the work order
	// requests passthrough mode. Compatible candidates all sit at full
	// coverage and the same-dialect pair at full fidelity, so any edge a
	// cross-dialect rival can hold is bounded by the priority weight;
	// the bonus must exceed it for passthrough to win outright.
	passthroughBonus = 0.25
)

// BackendEntry is a registered backend with its advertised capability
// manifest, native dialect, and priority weight in [0, 100].
type BackendEntry struct {
	ID           string
	Capabilities contract.CapabilityManifest
	Dialect      dialect.Dialect
	Priority     uint32
}

// Score is the composite fit of one backend for one work order.
type Score struct {
	CapabilityCoverage float64 `json:"capability_coverage"`
	MappingFidelity    float64 `json:"mapping_fidelity"`
	Priority           float64 `json:"priority"`
	Total              float64 `json:"total"`
}

func computeScore(coverage, fidelity, priority float64) Score {
	return Score{
		CapabilityCoverage: coverage,
		MappingFidelity:    fidelity,
		Priority:           priority,
		Total:              weightCapability*coverage + weightFidelity*fidelity + weightPriority*priority,
	}
}

// RequiredEmulation names a capability the selected backend must
// emulate rather than support natively.
type RequiredEmulation struct {
	Capability contract.Capability `json:"capability"`
	Strategy   string              `json:"strategy"`
}

// FallbackEntry is an alternative backend in the fallback chain.
type FallbackEntry struct {
	BackendID string `json:"backend_id"`
	Score     Score  `json:"score"`
}

// Result is the outcome of projecting a work order onto the registry.
type Result struct {
	SelectedBackend    string              `json:"selected_backend"`
	FidelityScore      Score               `json:"fidelity_score"`
	RequiredEmulations []RequiredEmulation `json:"required_emulations"`
	FallbackChain      []FallbackEntry     `json:"fallback_chain"`
}

// Matrix routes work orders to backends. The zero value is not usable;
// construct with New or WithMappingRegistry.
type Matrix struct {
	backends        map[string]BackendEntry
	mappingRegistry *dialect.MappingRegistry
	sourceDialect   dialect.Dialect
	hasSource       bool
	mappingFeatures []string
}

// New creates an empty projection matrix backed by the known mapping
// rules.
func New() *Matrix {
	return WithMappingRegistry(dialect.KnownRules())
}

// WithMappingRegistry creates an empty matrix using the given mapping
// registry for fidelity scoring.
func WithMappingRegistry(reg *dialect.MappingRegistry) *Matrix {
	return &Matrix{
		backends:        make(map[string]BackendEntry),
		mappingRegistry: reg,
	}
}

// SetSourceDialect pins the source dialect used for fidelity scoring,
// overriding per-work-order detection.
func (m *Matrix) SetSourceDialect(d dialect.Dialect) {
	m.sourceDialect = d
	m.hasSource = true
}

// SetMappingFeatures sets the feature list evaluated for mapping
// fidelity. With no features set, fidelity falls back to a coarse
// has-any-mapping heuristic.
func (m *Matrix) SetMappingFeatures(features []string) {
	m.mappingFeatures = features
}

// RegisterBackend adds or replaces a backend entry.
func (m *Matrix) RegisterBackend(id string, caps contract.CapabilityManifest, d dialect.Dialect, priority uint32) {
	m.backends[id] = BackendEntry{ID: id, Capabilities: caps.Clone(), Dialect: d, Priority: priority}
}

// BackendCount returns the number of registered backends.
func (m *Matrix) BackendCount() int { return len(m.backends) }

// Backends returns the registered entries sorted by id.
func (m *Matrix) Backends() []BackendEntry {
	out := make([]BackendEntry, 0, len(m.backends))
	for _, e := range m.backends {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type scoredBackend struct {
	id    string
	score Score
	neg   capability.Result
}

// Project selects the best-fit backend for a work order.
//
// Every backend is scored; fully compatible backends win over partial
// matches regardless of score. Incompatible backends still appear in
// the fallback chain. Returns ErrEmptyMatrix when no backends are
// registered and a NoSuitableBackendError when the best candidate
// covers none of a non-empty requirement set.
func (m *Matrix) Project(order *contract.WorkOrder) (*Result, error) {
	if len(m.backends) == 0 {
		return nil, ErrEmptyMatrix
	}

	passthrough := order.RequestedMode() == contract.ModePassthrough
	source, hasSource := m.detectSourceDialect(order)

	maxPriority := uint32(1)
	for _, b := range m.backends {
		if b.Priority > maxPriority {
			maxPriority = b.Priority
		}
	}

	scored := make([]scoredBackend, 0, len(m.backends))
	for _, entry := range m.Backends() {
		neg := capability.Negotiate(entry.Capabilities, order.Requirements)
		coverage := capabilityCoverage(neg, order.Requirements)
		fidelity := m.mappingFidelity(source, hasSource, entry.Dialect)
		normPriority := float64(entry.Priority) / float64(maxPriority)

		score := computeScore(coverage, fidelity, normPriority)
		if passthrough && hasSource && entry.Dialect == source {
			score.Total += passthroughBonus
		}

		scored = append(scored, scoredBackend{id: entry.ID, score: score, neg: neg})
	}

	// Total descending, id ascending for determinism.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score.Total != scored[j].score.Total {
			return scored[i].score.Total > scored[j].score.Total
		}
		return scored[i].id < scored[j].id
	})

	var selected *scoredBackend
	for i := range scored {
		if scored[i].neg.IsCompatible() {
			selected = &scored[i]
			break
		}
	}
	if selected == nil {
		// No fully compatible backend, fall back to the best partial
		// match unless it covers nothing.
		best := &scored[0]
		if best.score.CapabilityCoverage == 0 && len(order.Requirements.Required) > 0 {
			return nil, &NoSuitableBackendError{Reason: "no backend satisfies any required capabilities"}
		}
		selected = best
	}

	emulations := make([]RequiredEmulation, 0, len(selected.neg.Emulatable))
	for _, cap := range selected.neg.Emulatable {
		emulations = append(emulations, RequiredEmulation{Capability: cap, Strategy: "adapter"})
	}

	fallback := make([]FallbackEntry, 0, len(scored)-1)
	for _, s := range scored {
		if s.id == selected.id {
			continue
		}
		fallback = append(fallback, FallbackEntry{BackendID: s.id, Score: s.score})
	}

	return &Result{
		SelectedBackend:    selected.id,
		FidelityScore:      selected.score,
		RequiredEmulations: emulations,
		FallbackChain:      fallback,
	}, nil
}

func (m *Matrix) detectSourceDialect(order *contract.WorkOrder) (dialect.Dialect, bool) {
	if m.hasSource {
		return m.sourceDialect, true
	}
	if hint := order.SourceDialectHint(); hint != "" {
		if d, ok := dialect.Parse(hint); ok {
			return d, true
		}
	}
	return "", false
}

// mappingFidelity scores a source to target translation. An unknown
// source assumes perfect fidelity, as does a same-dialect pair.
func (m *Matrix) mappingFidelity(source dialect.Dialect, hasSource bool, target dialect.Dialect) float64 {
	if !hasSource || source == target {
		return 1.0
	}

	if len(m.mappingFeatures) == 0 {
		ranked := m.mappingRegistry.RankTargets(source, []string{dialect.FeatureToolUse})
		for _, r := range ranked {
			if r.Target == target {
				return 0.8
			}
		}
		return 0.0
	}

	validations := m.mappingRegistry.Validate(source, target, m.mappingFeatures)
	if len(validations) == 0 {
		return 0.0
	}

	var lossless, supported int
	for _, v := range validations {
		if v.Fidelity.IsLossless() {
			lossless++
		}
		if !v.Fidelity.IsUnsupported() {
			supported++
		}
	}
	if supported == 0 {
		return 0.0
	}

	losslessRatio := float64(lossless) / float64(len(validations))
	supportedRatio := float64(supported) / float64(len(validations))
	return 0.7*losslessRatio + 0.3*supportedRatio
}

func capabilityCoverage(neg capability.Result, reqs contract.CapabilityRequirements) float64 {
	if len(reqs.Required) == 0 {
		return 1.0
	}
	satisfied := len(neg.Native) + len(neg.Emulatable)
	return float64(satisfied) / float64(len(reqs.Required))
}
