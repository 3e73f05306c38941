// Package shell is the execution layer of the pipeline runner. It runs
// individual step commands under a shell with timeouts and captured
// output, and manages long-lived background service processes.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Command describes a single pipeline step.
type Command struct {
	// Line is the shell command line, run as `<shell> -c <line>`.
	Line string

	// Dir is the working directory. Empty means the process default.
	Dir string

	// Env holds KEY=VALUE pairs merged over the allow-listed host env.
	Env []string

	// Shell is the interpreter. Empty means the executor default.
	Shell string

	// Timeout bounds execution. Zero means the executor default.
	Timeout time.Duration
}

// Result is the outcome of one step.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	StartedAt  time.Time
	FinishedAt time.Time

	// Killed reports the step was terminated by its timeout.
	Killed bool

	// Truncated reports output was cut at the byte cap.
	Truncated bool
}

// Combined returns stdout and stderr joined for display.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Ok reports whether the step exited zero without being killed.
func (r *Result) Ok() bool {
	return r.ExitCode == 0 && !r.Killed
}

// ExecutorConfig tunes step execution.
type ExecutorConfig struct {
	// DefaultShell runs steps when Command.Shell is empty.
	DefaultShell string

	// DefaultTimeout applies when Command.Timeout is zero.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps captured stdout and stderr (each). Zero means 4MB.
	MaxOutputBytes int64

	// PassEnvironment lists host env vars visible to steps. Nil means
	// the conventional allow-list (PATH, HOME, etc.).
	PassEnvironment []string
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultShell:    "/bin/sh",
		DefaultTimeout:  10 * time.Minute,
		MaxOutputBytes:  4 * 1024 * 1024,
		PassEnvironment: []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "GOPATH", "GOROOT", "GOCACHE"},
	}
}

// Executor runs step commands.
type Executor struct {
	cfg ExecutorConfig
}

// NewExecutor creates an executor with the given config.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.DefaultShell == "" {
		cfg.DefaultShell = "/bin/sh"
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 10 * time.Minute
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 4 * 1024 * 1024
	}
	return &Executor{cfg: cfg}
}

// cappedBuffer stops growing past max and records truncation.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.truncated = true
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	return b.buf.Write(p)
}

// Run executes one step and returns its result. A non-zero exit code is
// reported in the Result, not as an error; errors mean the step could
// not be started or observed at all.
func (e *Executor) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Line == "" {
		return nil, fmt.Errorf("empty command line")
	}

	shell := cmd.Shell
	if shell == "" {
		shell = e.cfg.DefaultShell
	}
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = e.cfg.DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, shell, "-c", cmd.Line)
	c.Dir = cmd.Dir
	c.Env = e.buildEnv(cmd.Env)

	stdout := &cappedBuffer{max: e.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{max: e.cfg.MaxOutputBytes}
	c.Stdout = stdout
	c.Stderr = stderr

	started := time.Now()
	err := c.Run()
	finished := time.Now()

	result := &Result{
		Stdout:     stdout.buf.String(),
		Stderr:     stderr.buf.String(),
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
		Truncated:  stdout.truncated || stderr.truncated,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("run step %q: %w", cmd.Line, err)
	}

	result.ExitCode = 0
	return result, nil
}

// buildEnv merges the allow-listed host environment with step env pairs.
// Step pairs win on key collision because they come later.
func (e *Executor) buildEnv(extra []string) []string {
	env := make([]string, 0, len(e.cfg.PassEnvironment)+len(extra))
	for _, key := range e.cfg.PassEnvironment {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	env = append(env, extra...)
	return env
}
