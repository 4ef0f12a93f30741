// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator routes work orders onto backends: it projects
// each order against the registered backends, supervises the selected
// one, collects the event trace, and seals the resulting receipt.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/capability"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/dialect"
)

// EventSink receives agent events as a run produces them.
type EventSink func(contract.AgentEvent)

// Backend executes work orders. Implementations stream events through
// the sink and return the receipt they produced; the orchestrator
// re-seals the receipt regardless of what the backend reports.
type Backend interface {
	Identity() contract.BackendIdentity
	Capabilities() contract.CapabilityManifest
	Dialect() dialect.Dialect
	Priority() uint32
	Execute(ctx context.Context, runID string, order contract.WorkOrder, sink EventSink) (contract.Receipt, error)
}

// ParseCapabilities converts a config-level capability map into a
// manifest. Values are "native", "emulated", "unsupported", or
// "restricted:<reason>".
func ParseCapabilities(raw map[string]string) (contract.CapabilityManifest, error) {
	manifest := make(contract.CapabilityManifest, len(raw))
	for name, value := range raw {
		cap := contract.Capability(name)
		switch {
		case value == "native":
			manifest[cap] = contract.Native()
		case value == "emulated":
			manifest[cap] = contract.Emulated()
		case value == "unsupported":
			manifest[cap] = contract.Unsupported()
		case strings.HasPrefix(value, "restricted:"):
			reason := strings.TrimSpace(strings.TrimPrefix(value, "restricted:"))
			manifest[cap] = contract.Restricted(reason)
		default:
			return nil, fmt.Errorf("capability %s: unknown support kind %q", name, value)
		}
	}
	return manifest, nil
}

// MockBackend is a local development backend with deterministic events.
// It never calls a real SDK.
type MockBackend struct {
	id       string
	dialect  dialect.Dialect
	priority uint32
}

// NewMockBackend creates a mock backend under the given id.
func NewMockBackend(id string, d dialect.Dialect, priority uint32) *MockBackend {
	if id == "" {
		id = "mock"
	}
	return &MockBackend{id: id, dialect: d, priority: priority}
}

func (b *MockBackend) Identity() contract.BackendIdentity {
	return contract.BackendIdentity{ID: b.id, Dialect: string(b.dialect), Version: "0.1"}
}

func (b *MockBackend) Capabilities() contract.CapabilityManifest {
	return contract.CapabilityManifest{
		contract.CapStreaming:        contract.Native(),
		contract.CapToolRead:         contract.Emulated(),
		contract.CapToolWrite:        contract.Emulated(),
		contract.CapToolEdit:         contract.Emulated(),
		contract.CapToolBash:         contract.Emulated(),
		contract.CapStructuredOutput: contract.Emulated(),
	}
}

func (b *MockBackend) Dialect() dialect.Dialect { return b.dialect }
func (b *MockBackend) Priority() uint32         { return b.priority }

func (b *MockBackend) Execute(ctx context.Context, runID string, order contract.WorkOrder, sink EventSink) (contract.Receipt, error) {
	neg := capability.Negotiate(b.Capabilities(), order.Requirements)
	if !neg.IsCompatible() {
		return contract.Receipt{}, fmt.Errorf("capability requirements not satisfied: %v", neg.Unsupported)
	}

	builder := contract.NewReceipt(order.ID, runID, b.Identity()).
		Capabilities(b.Capabilities()).
		Mode(order.RequestedMode())

	emit := func(ev contract.AgentEvent) {
		builder.Event(ev)
		if sink != nil {
			sink(ev)
		}
	}

	emit(contract.NewRunStarted(fmt.Sprintf("mock backend starting: %s", order.Task)))
	emit(contract.NewAssistantMessage("This is a mock backend. It does not call any real SDK."))
	emit(contract.NewRunCompleted("mock run complete"))

	if err := ctx.Err(); err != nil {
		return contract.Receipt{}, err
	}

	return builder.
		Usage(contract.UsageNormalized{}).
		UsageRaw(map[string]json.RawMessage{"note": json.RawMessage(`"mock"`)}).
		Outcome(contract.OutcomeComplete).
		Seal(), nil
}
