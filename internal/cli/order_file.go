// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
)

// OrderFile is the YAML representation of a work order accepted by
// `backplane run --order`.
type OrderFile struct {
	Task      string              `yaml:"task"`
	Lane      string              `yaml:"lane"`
	Mode      string              `yaml:"mode"` // passthrough or mapped
	Workspace WorkspaceConfig     `yaml:"workspace"`
	Policy    PolicyConfig        `yaml:"policy"`
	Require   []RequirementConfig `yaml:"require"`
	Model     string              `yaml:"model"`
	MaxTurns  int                 `yaml:"max_turns"`
	Env       map[string]string   `yaml:"env"`
}

// WorkspaceConfig mirrors contract.WorkspaceSpec in YAML form.
type WorkspaceConfig struct {
	Root    string   `yaml:"root"`
	Mode    string   `yaml:"mode"` // pass_through or staged
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// PolicyConfig mirrors contract.PolicyProfile in YAML form.
type PolicyConfig struct {
	AllowedTools       []string `yaml:"allowed_tools"`
	DisallowedTools    []string `yaml:"disallowed_tools"`
	DenyRead           []string `yaml:"deny_read"`
	DenyWrite          []string `yaml:"deny_write"`
	AllowNetwork       []string `yaml:"allow_network"`
	DenyNetwork        []string `yaml:"deny_network"`
	RequireApprovalFor []string `yaml:"require_approval_for"`
}

// RequirementConfig is one capability requirement in YAML form.
type RequirementConfig struct {
	Capability string `yaml:"capability"`
	MinSupport string `yaml:"min_support"`
}

// LoadOrderFile loads and validates a work order YAML file.
func LoadOrderFile(path string) (*OrderFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read order file: %w", err)
	}

	var of OrderFile
	if err := yaml.Unmarshal(data, &of); err != nil {
		return nil, fmt.Errorf("failed to parse order YAML: %w", err)
	}

	if err := of.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order file: %w", err)
	}

	return &of, nil
}

// Validate checks the order file for errors.
func (of *OrderFile) Validate() error {
	if of.Task == "" {
		return errors.New("task is required")
	}

	switch of.Lane {
	case "", string(contract.LanePatchFirst), string(contract.LaneWorkspaceFirst):
	default:
		return fmt.Errorf("unknown lane: %s", of.Lane)
	}

	switch of.Mode {
	case "", string(contract.ModePassthrough), string(contract.ModeMapped):
	default:
		return fmt.Errorf("unknown mode: %s", of.Mode)
	}

	switch of.Workspace.Mode {
	case "", string(contract.WorkspacePassThrough), string(contract.WorkspaceStaged):
	default:
		return fmt.Errorf("unknown workspace mode: %s", of.Workspace.Mode)
	}

	for i, req := range of.Require {
		if req.Capability == "" {
			return fmt.Errorf("require %d: capability is required", i+1)
		}
		switch req.MinSupport {
		case "", string(contract.MinNative), string(contract.MinEmulated):
		default:
			return fmt.Errorf("require %d (%s): unknown min_support %q", i+1, req.Capability, req.MinSupport)
		}
	}

	return nil
}

// ToWorkOrder converts the file into a dispatchable work order.
func (of *OrderFile) ToWorkOrder() contract.WorkOrder {
	b := contract.NewWorkOrder(of.Task)

	if of.Lane != "" {
		b.Lane(contract.ExecutionLane(of.Lane))
	}
	if of.Workspace.Root != "" {
		b.Root(of.Workspace.Root)
	}
	if of.Workspace.Mode != "" {
		b.WorkspaceMode(contract.WorkspaceMode(of.Workspace.Mode))
	}
	if len(of.Workspace.Include) > 0 {
		b.Include(of.Workspace.Include...)
	}
	if len(of.Workspace.Exclude) > 0 {
		b.Exclude(of.Workspace.Exclude...)
	}

	b.Policy(contract.PolicyProfile{
		AllowedTools:       of.Policy.AllowedTools,
		DisallowedTools:    of.Policy.DisallowedTools,
		DenyRead:           of.Policy.DenyRead,
		DenyWrite:          of.Policy.DenyWrite,
		AllowNetwork:       of.Policy.AllowNetwork,
		DenyNetwork:        of.Policy.DenyNetwork,
		RequireApprovalFor: of.Policy.RequireApprovalFor,
	})

	if len(of.Require) > 0 {
		reqs := contract.CapabilityRequirements{}
		for _, r := range of.Require {
			min := contract.MinSupport(r.MinSupport)
			if min == "" {
				min = contract.MinEmulated
			}
			reqs.Required = append(reqs.Required, contract.CapabilityRequirement{
				Capability: contract.Capability(r.Capability),
				MinSupport: min,
			})
		}
		b.Requirements(reqs)
	}

	if of.Model != "" {
		b.Model(of.Model)
	}
	if of.MaxTurns > 0 {
		b.MaxTurns(of.MaxTurns)
	}
	if of.Mode != "" {
		b.Vendor(contract.VendorNamespace, map[string]any{"mode": of.Mode})
	}

	order := b.Build()
	if len(of.Env) > 0 {
		order.Config.Env = of.Env
	}
	return order
}
