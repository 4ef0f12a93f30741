// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// mockworker is a demo sidecar process. It speaks the wire protocol
// over stdin/stdout and answers every work order with a short scripted
// run, which makes it useful for exercising worker supervision without
// a real agent SDK behind it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/sidecar"
)

func main() {
	identity := contract.BackendIdentity{
		ID:      "mockworker",
		Dialect: "claude",
		Version: "0.1.0",
	}

	caps := contract.CapabilityManifest{
		contract.CapStreaming:        contract.Native(),
		contract.CapToolRead:         contract.Native(),
		contract.CapToolWrite:        contract.Native(),
		contract.CapToolEdit:         contract.Native(),
		contract.CapToolBash:         contract.Restricted("sandboxed shell only"),
		contract.CapStructuredOutput: contract.Emulated(),
	}

	srv := sidecar.NewServer(sidecar.HandlerFunc(run), identity, caps, contract.ModeMapped)
	if err := srv.Serve(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "mockworker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, runID string, order contract.WorkOrder, sender *sidecar.EventSender) (contract.Receipt, error) {
	identity := contract.BackendIdentity{ID: "mockworker", Dialect: "claude", Version: "0.1.0"}

	if err := sender.Send(contract.NewRunStarted("mockworker starting: " + order.Task)); err != nil {
		return contract.Receipt{}, err
	}

	// A token pause so cancellation has a window to land in tests.
	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
		return contract.NewReceipt(order.ID, runID, identity).
			Outcome(contract.OutcomeCancelled).
			Error(context.Cause(ctx).Error()).
			Seal(), nil
	}

	if err := sender.Send(contract.NewAssistantMessage("This is a scripted worker. No real agent ran.")); err != nil {
		return contract.Receipt{}, err
	}
	if err := sender.Send(contract.NewRunCompleted("mockworker run complete")); err != nil {
		return contract.Receipt{}, err
	}

	return contract.NewReceipt(order.ID, runID, identity).
		Capabilities(contract.CapabilityManifest{
			contract.CapStreaming: contract.Native(),
		}).
		Mode(order.RequestedMode()).
		UsageRaw(map[string]json.RawMessage{"note": json.RawMessage(`"mockworker"`)}).
		Outcome(contract.OutcomeComplete).
		Seal(), nil
}
