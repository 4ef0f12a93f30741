// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/dialect"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/logger"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/orchestrator"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/store"
)

type runOptions struct {
	configPath string
	orderFile  string
	root       string
	staged     bool
	lane       string
	model      string
	maxTurns   int
	persist    bool
	jsonOut    bool
	requires   []string
}

func runCommand(args []string) error {
	opts := &runOptions{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.orderFile, "order", "", "Path to a work order YAML file")
	fs.StringVar(&opts.root, "root", "", "Workspace root (defaults to current directory)")
	fs.BoolVar(&opts.staged, "staged", false, "Stage a workspace copy instead of running in place")
	fs.StringVar(&opts.lane, "lane", "", "Execution lane: patch_first or workspace_first")
	fs.StringVar(&opts.model, "model", "", "Model override")
	fs.IntVar(&opts.maxTurns, "max-turns", 0, "Turn budget for the run")
	fs.BoolVar(&opts.persist, "persist", false, "Persist the sealed receipt to the configured store")
	fs.BoolVar(&opts.jsonOut, "json", false, "Print the full run result as JSON")

	fs.Func("require", "Capability requirement (name or name:native), can be repeated", func(s string) error {
		opts.requires = append(opts.requires, s)
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return err
	}

	task := strings.Join(fs.Args(), " ")
	if opts.orderFile == "" && task == "" {
		return fmt.Errorf("task description or order file required\n\nUsage:\n  %s run \"<task description>\"\n  %s run --order <order.yaml>", appName, appName)
	}

	order, err := buildOrder(task, opts)
	if err != nil {
		return err
	}

	cfg, err := config.NewConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Log to file only; keep the terminal for run output.
	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.CloseGlobal()

	orch, closeStore, err := buildOrchestrator(cfg, opts.persist)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := func(ev contract.AgentEvent) {
		printEvent(ev)
	}

	result, err := orch.ExecuteWorkOrder(ctx, order, sink)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if opts.jsonOut {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	printSummary(result)
	if result.Receipt.Outcome != contract.OutcomeComplete {
		return fmt.Errorf("run finished with outcome %s", result.Receipt.Outcome)
	}
	return nil
}

func buildOrder(task string, opts *runOptions) (contract.WorkOrder, error) {
	if opts.orderFile != "" {
		of, err := LoadOrderFile(opts.orderFile)
		if err != nil {
			return contract.WorkOrder{}, err
		}
		if task != "" {
			of.Task = task
		}
		return of.ToWorkOrder(), nil
	}

	b := contract.NewWorkOrder(task)

	root := opts.root
	if root == "" {
		if cwd, err := os.Getwd(); err == nil {
			root = cwd
		}
	}
	b.Root(root)
	if opts.staged {
		b.WorkspaceMode(contract.WorkspaceStaged)
	}
	if opts.lane != "" {
		b.Lane(contract.ExecutionLane(opts.lane))
	}
	if opts.model != "" {
		b.Model(opts.model)
	}
	if opts.maxTurns > 0 {
		b.MaxTurns(opts.maxTurns)
	}

	if len(opts.requires) > 0 {
		reqs, err := parseRequirements(opts.requires)
		if err != nil {
			return contract.WorkOrder{}, err
		}
		b.Requirements(reqs)
	}

	return b.Build(), nil
}

// parseRequirements turns repeated --require flags into a requirement
// set. Bare names default to emulated-or-better.
func parseRequirements(specs []string) (contract.CapabilityRequirements, error) {
	reqs := contract.CapabilityRequirements{}
	for _, spec := range specs {
		name, minStr, found := strings.Cut(spec, ":")
		if name == "" {
			return reqs, fmt.Errorf("invalid requirement %q", spec)
		}
		min := contract.MinEmulated
		if found {
			switch contract.MinSupport(minStr) {
			case contract.MinNative:
				min = contract.MinNative
			case contract.MinEmulated:
				min = contract.MinEmulated
			default:
				return reqs, fmt.Errorf("requirement %s: unknown min support %q", name, minStr)
			}
		}
		reqs.Required = append(reqs.Required, contract.CapabilityRequirement{
			Capability: contract.Capability(name),
			MinSupport: min,
		})
	}
	return reqs, nil
}

// buildOrchestrator assembles the registry and (optionally) the receipt
// store from config. A mock backend is registered when none are
// configured so the CLI works out of the box.
func buildOrchestrator(cfg *config.AppConfig, persist bool) (*orchestrator.Orchestrator, func(), error) {
	registry, err := orchestrator.RegistryFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build backend registry: %w", err)
	}
	if registry.Len() == 0 {
		if err := registry.Register(orchestrator.NewMockBackend("mock", dialect.Claude, 50)); err != nil {
			return nil, nil, err
		}
		fmt.Fprintln(os.Stderr, "No backends configured; using the built-in mock backend.")
	}

	opts := []orchestrator.Option{orchestrator.WithProjectionConfig(cfg.Projection)}
	closeStore := func() {}

	if persist {
		st, err := store.New(&cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open receipt store: %w", err)
		}
		if err := st.AutoMigrate(); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate receipt store: %w", err)
		}
		opts = append(opts, orchestrator.WithStore(st))
		closeStore = func() {
			if err := st.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close receipt store: %v\n", err)
			}
		}
	}

	return orchestrator.New(registry, opts...), closeStore, nil
}

func printEvent(ev contract.AgentEvent) {
	ts := ev.TS.Format("15:04:05")
	switch ev.Type {
	case contract.EventRunStarted:
		fmt.Printf("[%s] >> %s\n", ts, ev.Message)
	case contract.EventRunCompleted:
		fmt.Printf("[%s] << %s\n", ts, ev.Message)
	case contract.EventAssistantDelta, contract.EventAssistantMessage:
		fmt.Printf("[%s] %s\n", ts, ev.Text)
	case contract.EventToolCall:
		fmt.Printf("[%s] tool %s\n", ts, ev.ToolName)
	case contract.EventToolResult:
		status := "ok"
		if ev.IsError {
			status = "error"
		}
		fmt.Printf("[%s] tool %s -> %s\n", ts, ev.ToolName, status)
	case contract.EventFileChanged:
		fmt.Printf("[%s] changed %s\n", ts, ev.Path)
	case contract.EventCommandExecuted:
		fmt.Printf("[%s] ran %s\n", ts, ev.Command)
	case contract.EventWarning:
		fmt.Printf("[%s] warning: %s\n", ts, ev.Message)
	case contract.EventError:
		fmt.Printf("[%s] error: %s\n", ts, ev.Message)
	default:
		fmt.Printf("[%s] %s\n", ts, ev.Type)
	}
}

func printSummary(result *orchestrator.RunResult) {
	receipt := result.Receipt
	fmt.Println()
	fmt.Printf("Run:      %s\n", result.RunID)
	fmt.Printf("Backend:  %s (score %.2f)\n", result.BackendID, result.Projection.FidelityScore.Total)
	fmt.Printf("Outcome:  %s\n", receipt.Outcome)
	fmt.Printf("Events:   %d\n", len(result.Events))
	if receipt.Verification != nil && receipt.Verification.GitDiffSummary != "" {
		fmt.Printf("Diff:     %s\n", receipt.Verification.GitDiffSummary)
	}
	if receipt.ReceiptSHA256 != nil {
		fmt.Printf("Receipt:  sha256:%s\n", *receipt.ReceiptSHA256)
	}
	if receipt.Error != "" {
		fmt.Printf("Error:    %s\n", receipt.Error)
	}
}
