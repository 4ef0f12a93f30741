// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/capability"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/dialect"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/logger"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/policy"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/projection"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/worker"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/workspace"
)

// UnknownBackendError is returned when projection selects a backend
// that is not registered.
type UnknownBackendError struct {
	Name string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown backend: %s", e.Name)
}

// CapabilityError is returned when the selected backend cannot satisfy
// the work order's requirements.
type CapabilityError struct {
	BackendID   string
	Unsupported []contract.Capability
}

func (e *CapabilityError) Error() string {
	names := lo.Map(e.Unsupported, func(c contract.Capability, _ int) string { return string(c) })
	return fmt.Sprintf("backend %s: unsupported capabilities: %s", e.BackendID, strings.Join(names, ", "))
}

// ReceiptStore persists sealed receipts.
type ReceiptStore interface {
	Save(ctx context.Context, receipt contract.Receipt) error
}

// RunResult is the full outcome of one dispatched work order.
type RunResult struct {
	RunID      string                `json:"run_id"`
	BackendID  string                `json:"backend_id"`
	Projection *projection.Result    `json:"projection"`
	Events     []contract.AgentEvent `json:"events"`
	Receipt    contract.Receipt      `json:"receipt"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore attaches a receipt store; every sealed receipt is persisted
// before the run returns.
func WithStore(s ReceiptStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithProjectionConfig applies source-dialect and mapping-feature
// settings to every projection.
func WithProjectionConfig(pc config.ProjectionConfig) Option {
	return func(o *Orchestrator) { o.projectionCfg = pc }
}

// Orchestrator dispatches work orders: projection, capability
// pre-flight, workspace preparation, execution, receipt sealing, and
// persistence.
type Orchestrator struct {
	registry      *Registry
	store         ReceiptStore
	projectionCfg config.ProjectionConfig
	health        *worker.HealthMonitor
	log           zerolog.Logger
}

// New creates an orchestrator over the given registry.
func New(registry *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		health:   worker.NewHealthMonitor(),
		log:      logger.GetOrchestratorLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the backend registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Health reports per-backend health rolled up from run outcomes.
func (o *Orchestrator) Health() worker.HealthReport {
	return o.health.GenerateReport()
}

// SelectBackend projects the work order and verifies the winner is
// registered.
func (o *Orchestrator) SelectBackend(order *contract.WorkOrder) (*projection.Result, error) {
	matrix := o.registry.Matrix()

	if o.projectionCfg.SourceDialect != "" {
		if d, ok := dialect.Parse(o.projectionCfg.SourceDialect); ok {
			matrix.SetSourceDialect(d)
		}
	}
	if len(o.projectionCfg.MappingFeatures) > 0 {
		matrix.SetMappingFeatures(o.projectionCfg.MappingFeatures)
	}

	result, err := matrix.Project(order)
	if err != nil {
		return nil, err
	}

	if _, ok := o.registry.Get(result.SelectedBackend); !ok {
		return nil, &UnknownBackendError{Name: result.SelectedBackend}
	}
	return result, nil
}

// ExecuteWorkOrder runs a work order end to end. Failures before
// dispatch (projection, capability check, workspace, policy) return an
// error; failures after dispatch still produce a sealed receipt with a
// failed or cancelled outcome.
func (o *Orchestrator) ExecuteWorkOrder(ctx context.Context, order contract.WorkOrder, sink EventSink) (*RunResult, error) {
	proj, err := o.SelectBackend(&order)
	if err != nil {
		return nil, err
	}

	backend, ok := o.registry.Get(proj.SelectedBackend)
	if !ok {
		return nil, &UnknownBackendError{Name: proj.SelectedBackend}
	}

	neg := capability.Negotiate(backend.Capabilities(), order.Requirements)
	if !neg.IsCompatible() {
		return nil, &CapabilityError{BackendID: proj.SelectedBackend, Unsupported: neg.Unsupported}
	}

	// Compile the policy before spending anything on execution; invalid
	// globs fail the run here.
	if _, err := policy.New(order.Policy); err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}

	prepared, err := workspace.Prepare(order.Workspace)
	if err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}
	defer prepared.Cleanup()
	order.Workspace.Root = prepared.Path()

	runID := uuid.NewString()
	o.log.Info().
		Str("run_id", runID).
		Str("backend", proj.SelectedBackend).
		Float64("score", proj.FidelityScore.Total).
		Int("fallbacks", len(proj.FallbackChain)).
		Msg("Projection selected backend")

	var trace []contract.AgentEvent
	collect := func(ev contract.AgentEvent) {
		trace = append(trace, ev)
		if sink != nil {
			sink(ev)
		}
	}

	started := time.Now()
	receipt, execErr := backend.Execute(ctx, runID, order, collect)
	o.recordHealth(proj.SelectedBackend, execErr, ctx.Err() != nil, time.Since(started))
	if execErr != nil {
		receipt = o.failureReceipt(ctx, runID, order, backend, trace, execErr)
	}

	if len(receipt.Trace) == 0 {
		receipt.Trace = trace
	}
	if receipt.Verification == nil {
		receipt.Verification = workspace.CaptureVerification(prepared)
	}
	o.attachProjectionMetadata(&receipt, proj, neg)

	sealed, err := contract.WithHash(receipt)
	if err != nil {
		return nil, fmt.Errorf("seal receipt: %w", err)
	}

	if o.store != nil {
		if err := o.store.Save(ctx, sealed); err != nil {
			return nil, fmt.Errorf("persist receipt: %w", err)
		}
	}

	o.log.Info().
		Str("run_id", runID).
		Str("backend", proj.SelectedBackend).
		Str("outcome", string(sealed.Outcome)).
		Dur("duration", time.Since(started)).
		Int("events", len(trace)).
		Msg("Run complete")

	return &RunResult{
		RunID:      runID,
		BackendID:  proj.SelectedBackend,
		Projection: proj,
		Events:     trace,
		Receipt:    sealed,
	}, nil
}

// recordHealth folds a run outcome into the backend's health check.
// Cancellation says nothing about the backend, so it counts as
// degraded rather than unhealthy.
func (o *Orchestrator) recordHealth(backendID string, execErr error, cancelled bool, duration time.Duration) {
	switch {
	case execErr == nil:
		o.health.RecordCheck(backendID, worker.Healthy(), duration)
	case cancelled:
		o.health.RecordCheck(backendID, worker.Degraded("run cancelled"), duration)
	default:
		o.health.RecordCheck(backendID, worker.Unhealthy(execErr.Error()), duration)
	}
}

// failureReceipt synthesizes a receipt for a run whose backend errored
// or died. Context cancellation maps to a cancelled outcome.
func (o *Orchestrator) failureReceipt(ctx context.Context, runID string, order contract.WorkOrder, backend Backend, trace []contract.AgentEvent, execErr error) contract.Receipt {
	outcome := contract.OutcomeFailed
	if ctx.Err() != nil {
		outcome = contract.OutcomeCancelled
	}

	o.log.Warn().
		Str("run_id", runID).
		Str("backend", backend.Identity().ID).
		Err(execErr).
		Msg("Backend execution failed")

	return contract.NewReceipt(order.ID, runID, backend.Identity()).
		Capabilities(backend.Capabilities()).
		Mode(order.RequestedMode()).
		Events(trace).
		Error(execErr.Error()).
		Outcome(outcome).
		Seal()
}

// attachProjectionMetadata records the projection result and capability
// negotiation in the receipt's raw usage section.
func (o *Orchestrator) attachProjectionMetadata(receipt *contract.Receipt, proj *projection.Result, neg capability.Result) {
	if receipt.UsageRaw == nil {
		receipt.UsageRaw = make(map[string]json.RawMessage, 2)
	}
	if raw, err := json.Marshal(proj); err == nil {
		receipt.UsageRaw["projection"] = raw
	}
	if raw, err := json.Marshal(neg); err == nil {
		receipt.UsageRaw["capability_negotiation"] = raw
	}
}
