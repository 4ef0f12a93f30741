// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/logger"
)

type backendsOptions struct {
	configPath string
	task       string
	requires   []string
}

func backendsCommand(args []string) error {
	opts := &backendsOptions{}
	fs := flag.NewFlagSet("backends", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.task, "task", "", "Preview projection for this task")
	fs.Func("require", "Capability requirement for the projection preview, can be repeated", func(s string) error {
		opts.requires = append(opts.requires, s)
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.CloseGlobal()

	orch, closeStore, err := buildOrchestrator(cfg, false)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := orch.Registry()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDIALECT\tPRIORITY\tCAPABILITIES")
	for _, name := range registry.Names() {
		b, ok := registry.Get(name)
		if !ok {
			continue
		}
		caps := b.Capabilities()
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			b.Identity().ID, b.Dialect(), b.Priority(), formatManifest(caps))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if opts.task == "" && len(opts.requires) == 0 {
		return nil
	}

	// Projection preview: show which backend would win for this order.
	b := contract.NewWorkOrder(opts.task)
	if len(opts.requires) > 0 {
		reqs, err := parseRequirements(opts.requires)
		if err != nil {
			return err
		}
		b.Requirements(reqs)
	}
	order := b.Build()

	proj, err := orch.SelectBackend(&order)
	if err != nil {
		return fmt.Errorf("projection failed: %w", err)
	}

	fmt.Println()
	fmt.Printf("Selected: %s (score %.2f, coverage %.2f, fidelity %.2f)\n",
		proj.SelectedBackend,
		proj.FidelityScore.Total,
		proj.FidelityScore.CapabilityCoverage,
		proj.FidelityScore.MappingFidelity)
	for _, em := range proj.RequiredEmulations {
		fmt.Printf("Emulated: %s (%s)\n", em.Capability, em.Strategy)
	}
	for _, fb := range proj.FallbackChain {
		fmt.Printf("Fallback: %s (score %.2f)\n", fb.BackendID, fb.Score.Total)
	}
	return nil
}

func formatManifest(caps contract.CapabilityManifest) string {
	out := ""
	for i, c := range caps.Keys() {
		if i > 0 {
			out += ","
		}
		grant := caps[c]
		out += string(c)
		if grant.Kind != contract.SupportNative {
			out += "(" + string(grant.Kind) + ")"
		}
	}
	return out
}
