// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package dialect

import (
	"fmt"
	"sort"
)

// FidelityKind classifies how faithfully a feature maps between dialects.
type FidelityKind string

const (
	FidelityLossless    FidelityKind = "lossless"
	FidelityLossy       FidelityKind = "lossy_labeled"
	FidelityUnsupported FidelityKind = "unsupported"
)

// Fidelity describes the quality of a single feature mapping. Lossy
// mappings carry a warning naming what is lost; unsupported mappings
// carry the reason.
type Fidelity struct {
	Kind    FidelityKind `json:"kind"`
	Warning string       `json:"warning,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

func Lossless() Fidelity              { return Fidelity{Kind: FidelityLossless} }
func Lossy(warning string) Fidelity   { return Fidelity{Kind: FidelityLossy, Warning: warning} }
func Unsupported(reason string) Fidelity {
	return Fidelity{Kind: FidelityUnsupported, Reason: reason}
}

// IsLossless reports whether the mapping loses no information.
func (f Fidelity) IsLossless() bool { return f.Kind == FidelityLossless }

// IsUnsupported reports whether the feature cannot map at all.
func (f Fidelity) IsUnsupported() bool { return f.Kind == FidelityUnsupported }

// Well-known feature names evaluated during mapping validation.
const (
	FeatureToolUse    = "tool_use"
	FeatureStreaming  = "streaming"
	FeatureThinking   = "thinking"
	FeatureImageInput = "image_input"
)

// MappingRule describes how one feature translates from a source to a
// target dialect.
type MappingRule struct {
	Source   Dialect  `json:"source_dialect"`
	Target   Dialect  `json:"target_dialect"`
	Feature  string   `json:"feature"`
	Fidelity Fidelity `json:"fidelity"`
}

// MappingValidation is the per-feature result of validating a mapping.
type MappingValidation struct {
	Feature  string   `json:"feature"`
	Fidelity Fidelity `json:"fidelity"`
	Errors   []string `json:"errors,omitempty"`
}

type ruleKey struct {
	source  Dialect
	target  Dialect
	feature string
}

// MappingRegistry collects mapping rules and answers lookups by
// source, target, and feature.
type MappingRegistry struct {
	rules map[ruleKey]MappingRule
}

// NewMappingRegistry creates an empty registry.
func NewMappingRegistry() *MappingRegistry {
	return &MappingRegistry{rules: make(map[ruleKey]MappingRule)}
}

// Insert adds a rule, replacing any existing rule for the same
// source, target, and feature.
func (r *MappingRegistry) Insert(rule MappingRule) {
	r.rules[ruleKey{rule.Source, rule.Target, rule.Feature}] = rule
}

// Lookup returns the rule for a source, target, and feature, if any.
func (r *MappingRegistry) Lookup(source, target Dialect, feature string) (MappingRule, bool) {
	rule, ok := r.rules[ruleKey{source, target, feature}]
	return rule, ok
}

// Len returns the number of rules in the registry.
func (r *MappingRegistry) Len() int { return len(r.rules) }

// Rules returns all rules in an unspecified order.
func (r *MappingRegistry) Rules() []MappingRule {
	out := make([]MappingRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	return out
}

// Validate checks each feature for a source to target mapping and
// returns one validation per feature. Features with no rule validate
// as unsupported.
func (r *MappingRegistry) Validate(source, target Dialect, features []string) []MappingValidation {
	out := make([]MappingValidation, 0, len(features))
	for _, feature := range features {
		if feature == "" {
			out = append(out, MappingValidation{
				Feature:  feature,
				Fidelity: Unsupported("empty feature name"),
				Errors:   []string{"invalid input: empty feature name"},
			})
			continue
		}
		rule, ok := r.Lookup(source, target, feature)
		if !ok {
			out = append(out, MappingValidation{
				Feature:  feature,
				Fidelity: Unsupported(fmt.Sprintf("no mapping rule for %q", feature)),
				Errors:   []string{fmt.Sprintf("feature %q is unsupported for %s -> %s", feature, source, target)},
			})
			continue
		}
		v := MappingValidation{Feature: feature, Fidelity: rule.Fidelity}
		switch rule.Fidelity.Kind {
		case FidelityLossy:
			v.Errors = []string{fmt.Sprintf("fidelity loss for %q: %s", feature, rule.Fidelity.Warning)}
		case FidelityUnsupported:
			v.Errors = []string{fmt.Sprintf("feature %q is unsupported for %s -> %s", feature, source, target)}
		}
		out = append(out, v)
	}
	return out
}

// RankTargets orders target dialects for a source by how well the given
// features map, best first. The score per target is the fraction of
// features with a lossless rule plus half credit for lossy rules. Ties
// break on dialect name for determinism.
func (r *MappingRegistry) RankTargets(source Dialect, features []string) []RankedTarget {
	var ranked []RankedTarget
	for _, target := range All() {
		if target == source {
			continue
		}
		score := 0.0
		for _, feature := range features {
			rule, ok := r.Lookup(source, target, feature)
			if !ok {
				continue
			}
			switch rule.Fidelity.Kind {
			case FidelityLossless:
				score += 1.0
			case FidelityLossy:
				score += 0.5
			}
		}
		if len(features) > 0 {
			score /= float64(len(features))
		}
		if score > 0 {
			ranked = append(ranked, RankedTarget{Target: target, Score: score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Target < ranked[j].Target
	})
	return ranked
}

// RankedTarget is one entry in a RankTargets result.
type RankedTarget struct {
	Target Dialect `json:"target"`
	Score  float64 `json:"score"`
}

func insertPair(reg *MappingRegistry, a, b Dialect, feature string, fid Fidelity) {
	reg.Insert(MappingRule{Source: a, Target: b, Feature: feature, Fidelity: fid})
	reg.Insert(MappingRule{Source: b, Target: a, Feature: feature, Fidelity: fid})
}

// KnownRules returns a registry pre-populated with mapping rules for
// the major features across the OpenAI, Claude, Gemini, and Codex
// dialects. Same-dialect mappings are always lossless.
func KnownRules() *MappingRegistry {
	reg := NewMappingRegistry()
	dialects := []Dialect{OpenAI, Claude, Gemini, Codex}
	feats := []string{FeatureToolUse, FeatureStreaming, FeatureThinking, FeatureImageInput}

	for _, d := range dialects {
		for _, f := range feats {
			reg.Insert(MappingRule{Source: d, Target: d, Feature: f, Fidelity: Lossless()})
		}
	}

	insertPair(reg, OpenAI, Claude, FeatureToolUse, Lossless())
	insertPair(reg, OpenAI, Gemini, FeatureToolUse, Lossless())
	insertPair(reg, OpenAI, Codex, FeatureToolUse, Lossy("Codex tool_use schema differs from chat-completions function calling"))
	insertPair(reg, Claude, Gemini, FeatureToolUse, Lossless())
	insertPair(reg, Claude, Codex, FeatureToolUse, Lossy("Codex tool_use schema differs from Claude tool_use blocks"))
	insertPair(reg, Gemini, Codex, FeatureToolUse, Lossy("Codex tool_use schema differs from Gemini function declarations"))

	insertPair(reg, OpenAI, Claude, FeatureStreaming, Lossless())
	insertPair(reg, OpenAI, Gemini, FeatureStreaming, Lossless())
	insertPair(reg, OpenAI, Codex, FeatureStreaming, Lossless())
	insertPair(reg, Claude, Gemini, FeatureStreaming, Lossless())
	insertPair(reg, Claude, Codex, FeatureStreaming, Lossless())
	insertPair(reg, Gemini, Codex, FeatureStreaming, Lossless())

	insertPair(reg, Claude, OpenAI, FeatureThinking, Lossy("reasoning traces surface as plain assistant text"))
	insertPair(reg, Claude, Gemini, FeatureThinking, Lossy("thinking blocks flatten to model output"))
	insertPair(reg, Claude, Codex, FeatureThinking, Lossy("thinking blocks flatten to model output"))
	insertPair(reg, OpenAI, Gemini, FeatureThinking, Lossy("reasoning effort hints are dropped"))
	insertPair(reg, OpenAI, Codex, FeatureThinking, Lossless())
	insertPair(reg, Gemini, Codex, FeatureThinking, Lossy("thought summaries are dropped"))

	insertPair(reg, OpenAI, Claude, FeatureImageInput, Lossless())
	insertPair(reg, OpenAI, Gemini, FeatureImageInput, Lossless())
	insertPair(reg, Claude, Gemini, FeatureImageInput, Lossless())
	insertPair(reg, OpenAI, Codex, FeatureImageInput, Unsupported("Codex does not accept image input"))
	insertPair(reg, Claude, Codex, FeatureImageInput, Unsupported("Codex does not accept image input"))
	insertPair(reg, Gemini, Codex, FeatureImageInput, Unsupported("Codex does not accept image input"))

	return reg
}
