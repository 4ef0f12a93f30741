// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
)

// DiffSummary describes changes in a workspace relative to its baseline
// commit.
type DiffSummary struct {
	Added          []string `json:"added"`
	Modified       []string `json:"modified"`
	Deleted        []string `json:"deleted"`
	TotalAdditions int      `json:"total_additions"`
	TotalDeletions int      `json:"total_deletions"`
}

// IsEmpty reports whether no changes were detected.
func (s DiffSummary) IsEmpty() bool {
	return len(s.Added) == 0 && len(s.Modified) == 0 && len(s.Deleted) == 0
}

// FileCount is the total number of changed files.
func (s DiffSummary) FileCount() int {
	return len(s.Added) + len(s.Modified) + len(s.Deleted)
}

// TotalChanges is the line-level churn, additions plus deletions.
func (s DiffSummary) TotalChanges() int {
	return s.TotalAdditions + s.TotalDeletions
}

// Files returns every changed path, sorted.
func (s DiffSummary) Files() []string {
	all := make([]string, 0, s.FileCount())
	all = append(all, s.Added...)
	all = append(all, s.Modified...)
	all = append(all, s.Deleted...)
	sort.Strings(all)
	return all
}

// Diff analyses workspace changes against the baseline commit. It
// stages everything first so new and deleted files show up, then parses
// `git diff --cached` in name-status and numstat forms.
func Diff(path string) (DiffSummary, error) {
	if _, err := runGit(path, "add", "-A"); err != nil {
		return DiffSummary{}, fmt.Errorf("stage workspace changes: %w", err)
	}

	nameStatus, err := runGit(path, "diff", "--cached", "--name-status")
	if err != nil {
		return DiffSummary{}, err
	}
	numstat, err := runGit(path, "diff", "--cached", "--numstat")
	if err != nil {
		return DiffSummary{}, err
	}

	summary := parseNameStatus(nameStatus)
	summary.TotalAdditions, summary.TotalDeletions = parseNumstat(numstat)
	return summary, nil
}

func parseNameStatus(out string) DiffSummary {
	var summary DiffSummary
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		code, path, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		switch code[0] {
		case 'A':
			summary.Added = append(summary.Added, path)
		case 'M':
			summary.Modified = append(summary.Modified, path)
		case 'D':
			summary.Deleted = append(summary.Deleted, path)
		default:
			// Renames and copies count as modifications.
			summary.Modified = append(summary.Modified, path)
		}
	}
	sort.Strings(summary.Added)
	sort.Strings(summary.Modified)
	sort.Strings(summary.Deleted)
	return summary
}

func parseNumstat(out string) (additions, deletions int) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 3 {
			continue
		}
		// Binary files report "-" counts.
		if parts[0] == "-" || parts[1] == "-" {
			continue
		}
		added, errA := strconv.Atoi(parts[0])
		deleted, errD := strconv.Atoi(parts[1])
		if errA != nil || errD != nil {
			continue
		}
		additions += added
		deletions += deleted
	}
	return additions, deletions
}

// CaptureVerification inspects the workspace after a run and builds the
// verification section of a receipt. A workspace without a usable git
// repo yields a report with a note instead of an error.
func CaptureVerification(prepared *Prepared) *contract.VerificationReport {
	summary, err := Diff(prepared.Path())
	if err != nil {
		return &contract.VerificationReport{
			Clean: false,
			Notes: []string{fmt.Sprintf("diff unavailable: %v", err)},
		}
	}

	report := &contract.VerificationReport{
		FilesChanged: summary.Files(),
		Clean:        summary.IsEmpty(),
	}
	if !summary.IsEmpty() {
		report.GitDiffSummary = fmt.Sprintf("%d files changed, %d insertions(+), %d deletions(-)",
			summary.FileCount(), summary.TotalAdditions, summary.TotalDeletions)
	}
	return report
}
