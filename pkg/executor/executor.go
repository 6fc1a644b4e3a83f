// Package executor invokes one step's command as an external process and
// captures its outcome. It owns no policy: fail-fast, conditions, and
// environment merging are the runner's business.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultShell runs step commands; every command executes as `sh -c "..."`.
const DefaultShell = "sh"

// Spec describes a single command invocation.
type Spec struct {
	// Command is the shell command line to run.
	Command string
	// Dir is the working directory; empty means the process default.
	Dir string
	// Env holds the full materialized environment as "KEY=VALUE" pairs.
	Env []string
	// Timeout bounds the invocation; zero means unbounded.
	Timeout time.Duration
}

// Result captures what a finished command did.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Failed reports whether the command exited non-zero.
func (r *Result) Failed() bool {
	return r.ExitCode != 0
}

// Combined returns stdout followed by stderr, for log capture.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + r.Stderr
}

// Executor runs step commands through a shell.
type Executor struct {
	Shell string
}

// New creates an executor using the default shell.
func New() *Executor {
	return &Executor{Shell: DefaultShell}
}

// Run executes the command and returns its result. A non-zero exit is not an
// error; errors mean the command could not be run at all.
func (e *Executor) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	shell := e.Shell
	if shell == "" {
		shell = DefaultShell
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}
