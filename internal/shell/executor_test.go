package shell

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExecutor_Run(t *testing.T) {
	e := NewExecutor(DefaultExecutorConfig())

	res, err := e.Run(context.Background(), Command{Line: "echo hello"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Ok() {
		t.Errorf("expected success, got exit %d killed=%v", res.ExitCode, res.Killed)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("expected stdout 'hello', got %q", res.Stdout)
	}
}

func TestExecutor_NonZeroExit(t *testing.T) {
	e := NewExecutor(DefaultExecutorConfig())

	res, err := e.Run(context.Background(), Command{Line: "exit 3"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
	if res.Ok() {
		t.Error("Ok should be false for non-zero exit")
	}
}

func TestExecutor_Timeout(t *testing.T) {
	e := NewExecutor(DefaultExecutorConfig())

	res, err := e.Run(context.Background(), Command{
		Line:    "sleep 5",
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Killed {
		t.Error("expected step to be killed by timeout")
	}
}

func TestExecutor_EnvMerge(t *testing.T) {
	e := NewExecutor(DefaultExecutorConfig())

	res, err := e.Run(context.Background(), Command{
		Line: "echo $STEP_VAR",
		Env:  []string{"STEP_VAR=from-step"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "from-step" {
		t.Errorf("expected env var to reach step, got %q", res.Stdout)
	}
}

func TestExecutor_EnvAllowList(t *testing.T) {
	t.Setenv("GANTRY_LEAKY_SECRET", "nope")
	e := NewExecutor(DefaultExecutorConfig())

	res, err := e.Run(context.Background(), Command{Line: "echo [$GANTRY_LEAKY_SECRET]"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "[]" {
		t.Errorf("host env not on allow-list should not leak, got %q", res.Stdout)
	}
}

func TestExecutor_OutputCap(t *testing.T) {
	cfg := DefaultExecutorConfig()
	cfg.MaxOutputBytes = 64
	e := NewExecutor(cfg)

	res, err := e.Run(context.Background(), Command{Line: "yes x | head -c 1024"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Truncated {
		t.Error("expected truncated output")
	}
	if len(res.Stdout) > 64 {
		t.Errorf("stdout exceeds cap: %d bytes", len(res.Stdout))
	}
}

func TestExecutor_EmptyLine(t *testing.T) {
	e := NewExecutor(DefaultExecutorConfig())
	if _, err := e.Run(context.Background(), Command{}); err == nil {
		t.Error("expected error for empty command line")
	}
}

func TestResult_Combined(t *testing.T) {
	r := &Result{Stdout: "out", Stderr: "err"}
	if r.Combined() != "out\nerr" {
		t.Errorf("unexpected combined output: %q", r.Combined())
	}
	r = &Result{Stdout: "out"}
	if r.Combined() != "out" {
		t.Errorf("unexpected combined output: %q", r.Combined())
	}
}
