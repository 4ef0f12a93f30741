// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/dialect"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/worker"
)

// WorkerBackend runs work orders in a supervised out-of-process worker.
// Each Execute spawns a fresh process; sessions are single-run.
type WorkerBackend struct {
	id       string
	dialect  dialect.Dialect
	priority uint32
	caps     contract.CapabilityManifest
	spec     worker.Spec
	timing   worker.Timing
}

// NewWorkerBackend builds a worker backend from its configuration.
func NewWorkerBackend(cfg config.BackendConfig, timing worker.Timing) (*WorkerBackend, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("backend %s: worker command is required", cfg.ID)
	}

	caps, err := ParseCapabilities(cfg.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.ID, err)
	}

	d, ok := dialect.Parse(cfg.Dialect)
	if !ok {
		return nil, fmt.Errorf("backend %s: unknown dialect %q", cfg.ID, cfg.Dialect)
	}

	spec := worker.NewSpec(cfg.Command)
	spec.Args = cfg.Args
	spec.Cwd = cfg.Cwd
	if len(cfg.Env) > 0 && spec.Env == nil {
		spec.Env = make(map[string]string, len(cfg.Env))
	}
	for k, v := range cfg.Env {
		spec.Env[k] = v
	}

	return &WorkerBackend{
		id:       cfg.ID,
		dialect:  d,
		priority: cfg.Priority,
		caps:     caps,
		spec:     spec,
		timing:   timing,
	}, nil
}

func (b *WorkerBackend) Identity() contract.BackendIdentity {
	return contract.BackendIdentity{ID: b.id, Dialect: string(b.dialect)}
}

func (b *WorkerBackend) Capabilities() contract.CapabilityManifest {
	return b.caps.Clone()
}

func (b *WorkerBackend) Dialect() dialect.Dialect { return b.dialect }
func (b *WorkerBackend) Priority() uint32         { return b.priority }

func (b *WorkerBackend) Execute(ctx context.Context, runID string, order contract.WorkOrder, sink EventSink) (contract.Receipt, error) {
	session, err := worker.Spawn(b.spec, b.timing)
	if err != nil {
		return contract.Receipt{}, err
	}
	defer session.Teardown()

	// The worker's advertised capabilities come from its hello; a
	// mismatch against the configured manifest is worth surfacing
	// before the run burns tokens.
	if hello := session.Hello(); len(hello.Capabilities) > 0 {
		neg := negotiateRequired(hello.Capabilities, order.Requirements)
		if neg != nil {
			return contract.Receipt{}, neg
		}
	}

	run, err := session.Execute(ctx, runID, order)
	if err != nil {
		return contract.Receipt{}, err
	}

	for ev := range run.Events() {
		if sink != nil {
			sink(ev)
		}
	}

	return run.Wait(ctx)
}

// negotiateRequired returns an error naming the unsupported
// capabilities, or nil when the manifest satisfies every requirement.
func negotiateRequired(manifest contract.CapabilityManifest, reqs contract.CapabilityRequirements) error {
	var unsupported []contract.Capability
	for _, req := range reqs.Required {
		grant, ok := manifest[req.Capability]
		if !ok || !grant.Satisfies(req.MinSupport) {
			unsupported = append(unsupported, req.Capability)
		}
	}
	if len(unsupported) == 0 {
		return nil
	}
	names := lo.Map(unsupported, func(c contract.Capability, _ int) string { return string(c) })
	return errors.New("worker does not satisfy required capabilities: " + strings.Join(names, ", "))
}
