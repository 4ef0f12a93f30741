// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package policy evaluates work order security policies: tool allow and
// deny lists plus path-level read/write restrictions, all expressed as
// glob patterns. Deny rules always win over allow rules, and an empty
// policy permits everything.
package policy

import (
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
)

// Decision is the outcome of a single policy check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow returns a permissive decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny returns a denial carrying a human-readable reason.
func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// PathVerdict classifies how a candidate fared against an
// include/exclude glob pair.
type PathVerdict int

const (
	VerdictAllowed PathVerdict = iota
	VerdictDeniedByExclude
	VerdictDeniedByMissingInclude
)

// Allowed reports whether the verdict permits the candidate.
func (v PathVerdict) Allowed() bool { return v == VerdictAllowed }

// PathRules is a validated include/exclude glob pair. Exclude patterns
// take precedence over include patterns, and empty lists mean no
// constraint. Patterns use doublestar syntax, so "**" crosses directory
// boundaries.
type PathRules struct {
	include []string
	exclude []string
}

// NewPathRules validates both pattern lists and returns a reusable
// matcher.
func NewPathRules(include, exclude []string) (PathRules, error) {
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return PathRules{}, fmt.Errorf("invalid glob: %s", p)
		}
	}
	return PathRules{include: include, exclude: exclude}, nil
}

// Decide evaluates a slash- or OS-separated candidate path against the
// compiled rules.
func (r PathRules) Decide(candidate string) PathVerdict {
	candidate = filepath.ToSlash(candidate)
	for _, p := range r.exclude {
		if ok, _ := doublestar.Match(p, candidate); ok {
			return VerdictDeniedByExclude
		}
	}
	if len(r.include) > 0 {
		for _, p := range r.include {
			if ok, _ := doublestar.Match(p, candidate); ok {
				return VerdictAllowed
			}
		}
		return VerdictDeniedByMissingInclude
	}
	return VerdictAllowed
}

// Engine answers policy questions for a single work order. Compile one
// with New and reuse it across checks; it is safe for concurrent use.
type Engine struct {
	toolRules   PathRules
	denyRead    PathRules
	denyWrite   PathRules
	denyNet     PathRules
	approvalFor map[string]struct{}
}

// New compiles a policy profile into an engine, validating every glob
// pattern up front.
func New(profile contract.PolicyProfile) (*Engine, error) {
	toolRules, err := NewPathRules(profile.AllowedTools, profile.DisallowedTools)
	if err != nil {
		return nil, fmt.Errorf("compile tool policy globs: %w", err)
	}
	denyRead, err := NewPathRules(nil, profile.DenyRead)
	if err != nil {
		return nil, fmt.Errorf("compile deny_read globs: %w", err)
	}
	denyWrite, err := NewPathRules(nil, profile.DenyWrite)
	if err != nil {
		return nil, fmt.Errorf("compile deny_write globs: %w", err)
	}
	denyNet, err := NewPathRules(profile.AllowNetwork, profile.DenyNetwork)
	if err != nil {
		return nil, fmt.Errorf("compile network globs: %w", err)
	}

	approvalFor := make(map[string]struct{}, len(profile.RequireApprovalFor))
	for _, tool := range profile.RequireApprovalFor {
		approvalFor[tool] = struct{}{}
	}

	return &Engine{
		toolRules:   toolRules,
		denyRead:    denyRead,
		denyWrite:   denyWrite,
		denyNet:     denyNet,
		approvalFor: approvalFor,
	}, nil
}

// CanUseTool checks a tool name against the allow and deny lists. A tool
// on both lists is denied.
func (e *Engine) CanUseTool(toolName string) Decision {
	switch e.toolRules.Decide(toolName) {
	case VerdictDeniedByExclude:
		return Deny(fmt.Sprintf("tool '%s' is disallowed", toolName))
	case VerdictDeniedByMissingInclude:
		return Deny(fmt.Sprintf("tool '%s' not in allowlist", toolName))
	default:
		return Allow()
	}
}

// CanReadPath checks a workspace-relative path against the deny_read
// patterns.
func (e *Engine) CanReadPath(relPath string) Decision {
	if !e.denyRead.Decide(relPath).Allowed() {
		return Deny(fmt.Sprintf("read denied for '%s'", relPath))
	}
	return Allow()
}

// CanWritePath checks a workspace-relative path against the deny_write
// patterns.
func (e *Engine) CanWritePath(relPath string) Decision {
	if !e.denyWrite.Decide(relPath).Allowed() {
		return Deny(fmt.Sprintf("write denied for '%s'", relPath))
	}
	return Allow()
}

// CanReachHost checks a host name against allow_network and deny_network.
// An empty allow list permits any host not explicitly denied.
func (e *Engine) CanReachHost(host string) Decision {
	switch e.denyNet.Decide(host) {
	case VerdictDeniedByExclude:
		return Deny(fmt.Sprintf("network access to '%s' is denied", host))
	case VerdictDeniedByMissingInclude:
		return Deny(fmt.Sprintf("host '%s' not in network allowlist", host))
	default:
		return Allow()
	}
}

// RequiresApproval reports whether the tool needs an explicit approval
// before use. Approval gating is independent of the allow/deny lists.
func (e *Engine) RequiresApproval(toolName string) bool {
	_, ok := e.approvalFor[toolName]
	return ok
}
