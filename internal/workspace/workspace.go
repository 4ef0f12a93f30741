// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workspace prepares run workspaces and captures post-run
// verification.
//
// Two modes matter: pass_through runs directly in the caller's
// directory, staged copies a filtered snapshot into a temp directory
// and initializes a baseline git commit so diffs are meaningful.
package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/logger"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/policy"
)

// Prepared is a workspace ready for use. Staged workspaces own their
// temp directory; call Cleanup when the run is over.
type Prepared struct {
	path   string
	staged bool
	log    zerolog.Logger
}

// Path returns the root of the prepared workspace.
func (p *Prepared) Path() string { return p.path }

// Staged reports whether the workspace is a temporary copy.
func (p *Prepared) Staged() bool { return p.staged }

// Cleanup removes the staged temp directory. It is a no-op for
// pass_through workspaces.
func (p *Prepared) Cleanup() {
	if !p.staged {
		return
	}
	if err := os.RemoveAll(p.path); err != nil {
		p.log.Warn().Err(err).Str("path", p.path).Msg("Failed to remove staged workspace")
	}
}

// Prepare readies a workspace for a run. Pass-through mode
// uses the original root directly; staged mode copies a filtered
// snapshot into a temp directory and initializes a git baseline.
func Prepare(spec contract.WorkspaceSpec) (*Prepared, error) {
	log := logger.GetWorkspaceLogger()

	switch spec.Mode {
	case contract.WorkspaceStaged:
		return stage(spec, log)
	case contract.WorkspacePassThrough, "":
		return &Prepared{path: spec.Root, log: log}, nil
	default:
		return nil, fmt.Errorf("unknown workspace mode: %s", spec.Mode)
	}
}

func stage(spec contract.WorkspaceSpec, log zerolog.Logger) (*Prepared, error) {
	if _, err := os.Stat(spec.Root); err != nil {
		return nil, fmt.Errorf("source directory does not exist: %s", spec.Root)
	}

	rules, err := policy.NewPathRules(spec.Include, spec.Exclude)
	if err != nil {
		return nil, fmt.Errorf("compile workspace include/exclude globs: %w", err)
	}

	dest, err := os.MkdirTemp("", "backplane-ws-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	log.Debug().Str("from", spec.Root).Str("to", dest).Msg("Staging workspace")

	if err := copyTree(spec.Root, dest, rules); err != nil {
		os.RemoveAll(dest)
		return nil, err
	}

	ensureGitRepo(dest, log)

	return &Prepared{path: dest, staged: true, log: log}, nil
}

// copyTree walks src and copies allowed files into dest, skipping .git
// directories and anything the rules reject.
func copyTree(src, dest string, rules policy.PathRules) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if !rules.Decide(rel).Allowed() {
			return nil
		}

		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// Symlinks and other special files are not staged.
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", filepath.Dir(target), err)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// ensureGitRepo initializes a repo with a baseline commit when the
// staged copy is not already one. Failures are logged, not fatal: a
// workspace without git still runs, it just cannot be diffed.
func ensureGitRepo(path string, log zerolog.Logger) {
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		return
	}

	steps := [][]string{
		{"init", "-q"},
		{"add", "-A"},
		{"-c", "user.name=backplane", "-c", "user.email=backplane@local", "commit", "-qm", "baseline"},
	}
	for _, args := range steps {
		cmd := exec.Command("git", args...)
		cmd.Dir = path
		if err := cmd.Run(); err != nil {
			log.Warn().Err(err).Strs("args", args).Msg("Git baseline setup failed")
			return
		}
	}
}

// GitStatus runs `git status --porcelain=v1` in the workspace. Returns
// an empty string when git is unavailable or the path is not a repo.
func GitStatus(path string) string {
	out, err := runGit(path, "status", "--porcelain=v1")
	if err != nil {
		return ""
	}
	return out
}

// GitDiff runs `git diff --no-color` in the workspace. Returns an empty
// string when git is unavailable or the path is not a repo.
func GitDiff(path string) string {
	out, err := runGit(path, "diff", "--no-color")
	if err != nil {
		return ""
	}
	return out
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}
