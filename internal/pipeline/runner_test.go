package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gantry/internal/config"
)

func runnerFor(t *testing.T, p *config.Pipeline) (*Runner, string) {
	t.Helper()
	ws := t.TempDir()
	r := NewRunner(p, ws)
	r.Output = &bytes.Buffer{}
	return r, ws
}

func readMarker(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func TestRunner_StageOrder(t *testing.T) {
	p := config.DefaultPipeline()
	p.Install = []string{"echo install >> order.txt"}
	p.BeforeScript = []string{"echo before >> order.txt"}
	p.Script = []string{"echo script >> order.txt"}
	p.AfterSuccess = []string{"echo after_success >> order.txt"}
	p.AfterScript = []string{"echo after_script >> order.txt"}

	r, ws := runnerFor(t, p)
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !build.Success {
		t.Fatal("expected successful build")
	}

	got := readMarker(t, filepath.Join(ws, "order.txt"))
	want := "install\nbefore\nscript\nafter_success\nafter_script"
	if got != want {
		t.Errorf("stage order mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestRunner_ScriptFailureRunsAfterFailure(t *testing.T) {
	p := config.DefaultPipeline()
	p.Script = []string{"exit 1", "echo unreachable >> order.txt"}
	p.AfterSuccess = []string{"echo after_success >> order.txt"}
	p.AfterFailure = []string{"echo after_failure >> order.txt"}
	p.AfterScript = []string{"echo after_script >> order.txt"}

	r, ws := runnerFor(t, p)
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if build.Success {
		t.Fatal("expected failed build")
	}
	if build.Jobs[0].FailedStage != StageScript {
		t.Errorf("expected failed stage %q, got %q", StageScript, build.Jobs[0].FailedStage)
	}

	got := readMarker(t, filepath.Join(ws, "order.txt"))
	want := "after_failure\nafter_script"
	if got != want {
		t.Errorf("after-stage mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestRunner_InstallFailureSkipsScript(t *testing.T) {
	p := config.DefaultPipeline()
	p.Install = []string{"exit 2"}
	p.Script = []string{"echo script-ran >> order.txt"}

	r, ws := runnerFor(t, p)
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if build.Success {
		t.Fatal("expected failed build")
	}
	if build.Jobs[0].FailedStage != StageInstall {
		t.Errorf("expected install failure, got %q", build.Jobs[0].FailedStage)
	}
	if readMarker(t, filepath.Join(ws, "order.txt")) != "" {
		t.Error("script must not run after install failure")
	}
}

func TestRunner_AfterStageFailureIsIgnored(t *testing.T) {
	p := config.DefaultPipeline()
	p.Script = []string{"true"}
	p.AfterSuccess = []string{"exit 9"}

	r, _ := runnerFor(t, p)
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !build.Success {
		t.Error("after_success failure must not fail the build")
	}
}

func TestRunner_AllowFailure(t *testing.T) {
	p := config.DefaultPipeline()
	p.Matrix.Runtimes = []string{"good", "flaky"}
	p.Matrix.AllowFailures = []string{"flaky"}
	p.Script = []string{`[ "$RUNTIME_VERSION" = good ] || exit 1`}

	r, _ := runnerFor(t, p)
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !build.Success {
		t.Error("allow_failures job must not fail the build")
	}

	var flaky *JobResult
	for i := range build.Jobs {
		if build.Jobs[i].Job.Runtime == "flaky" {
			flaky = &build.Jobs[i]
		}
	}
	if flaky == nil || flaky.Success {
		t.Error("flaky job itself should have failed")
	}
}

func TestRunner_RuntimeFilter(t *testing.T) {
	p := config.DefaultPipeline()
	p.Matrix.Runtimes = []string{"1.23", "1.24"}
	p.Script = []string{"true"}

	r, _ := runnerFor(t, p)
	r.RuntimeFilter = "1.24"
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(build.Jobs) != 1 || build.Jobs[0].Job.Runtime != "1.24" {
		t.Errorf("expected only the 1.24 job, got %+v", build.Jobs)
	}

	r2, _ := runnerFor(t, p)
	r2.RuntimeFilter = "9.99"
	if _, err := r2.Run(context.Background()); err == nil {
		t.Error("expected error for unknown runtime filter")
	}
}

func TestRunner_MatrixEnvReachesSteps(t *testing.T) {
	p := config.DefaultPipeline()
	p.Matrix.Runtimes = []string{"1.24"}
	p.Env = []string{"GREETING=hello"}
	p.Script = []string{"echo $GREETING-$RUNTIME_VERSION > marker.txt"}

	r, ws := runnerFor(t, p)
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !build.Success {
		t.Fatal("expected success")
	}
	if got := readMarker(t, filepath.Join(ws, "marker.txt")); got != "hello-1.24" {
		t.Errorf("env did not reach step, got %q", got)
	}
}

func TestRunner_ServiceLifecycle(t *testing.T) {
	p := config.DefaultPipeline()
	p.Services = []config.Service{{
		Name:    "marker-svc",
		Command: "echo svc-output; sleep 30",
	}}
	// The service log lives under .gantry/<name>.log in the workspace.
	p.Script = []string{"sleep 0.3; grep -q svc-output .gantry/marker-svc.log"}

	r, _ := runnerFor(t, p)
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !build.Success {
		t.Errorf("expected script to observe service output; job: %+v", build.Jobs[0])
	}
}

func TestRunner_ServiceStartFailureFailsJob(t *testing.T) {
	p := config.DefaultPipeline()
	p.Services = []config.Service{{
		Name:         "dead",
		Command:      "true",
		ReadyTCP:     "127.0.0.1:59998",
		ReadyTimeout: time.Second,
	}}

	r, _ := runnerFor(t, p)
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if build.Success {
		t.Error("expected build failure from unready service")
	}
	if build.Jobs[0].FailedStage != "services" {
		t.Errorf("expected services failure, got %q", build.Jobs[0].FailedStage)
	}
}

func TestRunner_CoverageSummary(t *testing.T) {
	profile := "mode: set\ngantry/a.go:1.1,2.2 2 1\ngantry/a.go:3.1,4.2 2 0\n"

	p := config.DefaultPipeline()
	p.Script = []string{"true"}
	p.Coverage = &config.Coverage{Profile: "cover.out"}

	r, ws := runnerFor(t, p)
	if err := os.WriteFile(filepath.Join(ws, "cover.out"), []byte(profile), 0644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if build.CoveragePercent != 50 {
		t.Errorf("expected 50%% coverage, got %.1f", build.CoveragePercent)
	}
}

func TestRunner_DeployOnTaggedBuild(t *testing.T) {
	ws := t.TempDir()
	marker := filepath.Join(ws, "deployed.txt")

	p := config.DefaultPipeline()
	p.Matrix.Runtimes = []string{"1.23", "1.24"}
	p.Script = []string{"true"}
	p.Deploy = &config.Deploy{
		Provider: "script",
		On:       config.DeployCondition{Tags: true, Runtime: "1.24"},
		Settings: map[string]string{"command": "echo $DEPLOY_TAG >> " + marker},
	}

	r := NewRunner(p, ws)
	r.Tag = "v1.0.0"
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !build.Deployed {
		t.Fatal("expected tagged build to deploy")
	}
	// Deploy must run exactly once even with a two-runtime matrix.
	if got := readMarker(t, marker); got != "v1.0.0" {
		t.Errorf("expected single deploy with tag, got %q", got)
	}
}

func TestRunner_DeployRunsInWorkspace(t *testing.T) {
	ws := t.TempDir()

	p := config.DefaultPipeline()
	p.Script = []string{"mkdir -p dist && touch dist/pkg.tar.gz"}
	p.Deploy = &config.Deploy{
		Provider: "script",
		Settings: map[string]string{"command": "cp dist/pkg.tar.gz published.tar.gz"},
	}

	r := NewRunner(p, ws)
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !build.Deployed {
		t.Fatal("expected deploy to run")
	}
	// Artifacts produced by the script stage must be visible to the
	// deploy command even when the workspace is not the process cwd.
	if _, err := os.Stat(filepath.Join(ws, "published.tar.gz")); err != nil {
		t.Errorf("deploy did not run inside the workspace: %v", err)
	}
}

func TestRunner_DeploySkippedWithoutTag(t *testing.T) {
	ws := t.TempDir()
	marker := filepath.Join(ws, "deployed.txt")

	p := config.DefaultPipeline()
	p.Script = []string{"true"}
	p.Deploy = &config.Deploy{
		Provider: "script",
		On:       config.DeployCondition{Tags: true},
		Settings: map[string]string{"command": "touch " + marker},
	}

	r := NewRunner(p, ws)
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if build.Deployed {
		t.Error("untagged build must not deploy")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("deploy command must not have run")
	}
}

func TestRunner_NoDeployAfterFailedBuild(t *testing.T) {
	ws := t.TempDir()
	marker := filepath.Join(ws, "deployed.txt")

	p := config.DefaultPipeline()
	p.Script = []string{"exit 1"}
	p.Deploy = &config.Deploy{
		Provider: "script",
		Settings: map[string]string{"command": "touch " + marker},
	}

	r := NewRunner(p, ws)
	r.Tag = "v1.0.0"
	build, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if build.Success || build.Deployed {
		t.Error("failed build must not deploy")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("deploy command must not have run")
	}
}
