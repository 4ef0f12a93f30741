// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package worker supervises out-of-process backend workers: it spawns
// them, performs the hello handshake, streams run events, and enforces
// heartbeat and cancellation deadlines.
package worker

import (
	"bufio"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/logger"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/wire"
)

// Spec describes how to launch a worker process.
type Spec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

// NewSpec creates a spec with the given command and empty args/env.
func NewSpec(command string) Spec {
	return Spec{Command: command}
}

// Conn is a bidirectional envelope channel to a worker. Process-backed
// connections are created by StartProcess; tests substitute in-memory
// implementations.
type Conn interface {
	// Send writes one envelope. Safe for concurrent use.
	Send(env wire.Envelope) error
	// Recv blocks until the next envelope or stream end (io.EOF).
	Recv() (wire.Envelope, error)
	// Kill forcibly terminates the worker.
	Kill() error
	// Wait blocks until the worker exits and returns its exit code.
	// It reaps the process and is safe to call after Kill.
	Wait() int
}

type procConn struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *wire.Scanner
	writer  *wire.Writer

	sendMu sync.Mutex

	waitOnce sync.Once
	exitCode int
}

// StartProcess launches the worker process described by spec with its
// stdin/stdout wired as the envelope channel. Stderr lines are drained
// into the worker log.
func StartProcess(spec Spec) (Conn, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	if len(spec.Env) > 0 {
		env := cmd.Environ()
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Err: err}
	}

	go drainStderr(spec.Command, stderr)

	return &procConn{
		cmd:     cmd,
		stdin:   stdin,
		scanner: wire.NewScanner(stdout),
		writer:  wire.NewWriter(stdin),
	}, nil
}

func drainStderr(command string, r io.Reader) {
	log := logger.GetWorkerLogger()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			log.Warn().Str("command", command).Str("stderr", line).Msg("worker stderr")
		}
	}
}

func (c *procConn) Send(env wire.Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.writer.Write(env)
}

func (c *procConn) Recv() (wire.Envelope, error) {
	return c.scanner.Next()
}

func (c *procConn) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

func (c *procConn) Wait() int {
	c.waitOnce.Do(func() {
		_ = c.stdin.Close()
		err := c.cmd.Wait()
		if err == nil {
			c.exitCode = 0
			return
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			c.exitCode = exitErr.ExitCode()
			return
		}
		c.exitCode = -1
	})
	return c.exitCode
}
