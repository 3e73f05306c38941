package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"gantry/internal/config"
	"gantry/internal/coverage"
	"gantry/internal/deploy"
	"gantry/internal/logging"
	"gantry/internal/shell"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Stage names, in execution order.
const (
	StageInstall      = "install"
	StageBeforeScript = "before_script"
	StageScript       = "script"
	StageAfterSuccess = "after_success"
	StageAfterFailure = "after_failure"
	StageAfterScript  = "after_script"
)

// StepResult is the outcome of one executed step.
type StepResult struct {
	Stage  string
	Line   string
	Result *shell.Result
}

// JobResult is the outcome of one matrix job.
type JobResult struct {
	Job         Job
	Success     bool
	FailedStage string
	Steps       []StepResult
	Duration    time.Duration
}

// BuildResult is the outcome of a whole pipeline run.
type BuildResult struct {
	ID         string
	Tag        string
	Branch     string
	Success    bool
	StartedAt  time.Time
	FinishedAt time.Time
	Jobs       []JobResult

	// CoveragePercent is set when a coverage block ran.
	CoveragePercent float64

	// Deployed reports the deploy stage actually published (not skipped).
	Deployed bool
}

// Runner executes a pipeline.
type Runner struct {
	pipeline  *config.Pipeline
	workspace string
	executor  *shell.Executor

	// Tag and Branch describe the build context for conditions.
	Tag    string
	Branch string

	// RuntimeFilter, when set, restricts the build to matrix jobs with
	// this runtime version.
	RuntimeFilter string

	// Output receives human-readable step echo. Nil means silent.
	Output io.Writer

	// RunDeploy disables the deploy stage when false (e.g. validate-only).
	RunDeploy bool
}

// NewRunner builds a runner for the pipeline rooted at workspace.
func NewRunner(p *config.Pipeline, workspace string) *Runner {
	cfg := shell.DefaultExecutorConfig()
	cfg.DefaultShell = p.Defaults.ShellOrDefault()
	cfg.DefaultTimeout = p.Defaults.StepTimeoutOrDefault()
	cfg.MaxOutputBytes = p.Defaults.MaxOutputOrDefault()

	return &Runner{
		pipeline:  p,
		workspace: workspace,
		executor:  shell.NewExecutor(cfg),
		RunDeploy: true,
	}
}

func (r *Runner) printf(format string, args ...interface{}) {
	if r.Output != nil {
		fmt.Fprintf(r.Output, format, args...)
	}
}

// Run executes the full build: all matrix jobs (bounded parallelism),
// then coverage and deploy when every required job succeeded.
func (r *Runner) Run(ctx context.Context) (*BuildResult, error) {
	jobs := Plan(r.pipeline)
	if r.RuntimeFilter != "" {
		var filtered []Job
		for _, j := range jobs {
			if j.Runtime == r.RuntimeFilter {
				filtered = append(filtered, j)
			}
		}
		if len(filtered) == 0 {
			return nil, fmt.Errorf("no matrix job has runtime %q", r.RuntimeFilter)
		}
		jobs = filtered
	}

	build := &BuildResult{
		ID:        uuid.NewString(),
		Tag:       r.Tag,
		Branch:    r.Branch,
		StartedAt: time.Now(),
	}
	logging.Build("build %s: %d job(s)", build.ID, len(jobs))

	results := make([]JobResult, len(jobs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.pipeline.Defaults.MaxParallelOrDefault())

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res := r.runJob(gctx, job)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			if !res.Success && !job.AllowFailure {
				// A failed job does not cancel the rest of the matrix.
				// Returning nil keeps the group alive.
				logging.Build("build %s: job %q failed at %s", build.ID, job.Name, res.FailedStage)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	build.Jobs = results
	build.Success = true
	for _, res := range results {
		if !res.Success && !res.Job.AllowFailure {
			build.Success = false
		}
	}
	build.FinishedAt = time.Now()

	if build.Success {
		if err := r.runCoverage(ctx, build); err != nil {
			// Coverage trouble mirrors after_success semantics: reported,
			// not fatal to the build.
			r.printf("coverage: %v\n", err)
			logging.Get(logging.CategoryCoverage).Warn("coverage stage: %v", err)
		}
		if r.RunDeploy && r.pipeline.Deploy != nil {
			deployed, err := r.runDeploy(ctx, build)
			if err != nil {
				return build, fmt.Errorf("deploy stage: %w", err)
			}
			build.Deployed = deployed
		}
	}

	logging.Build("build %s finished: success=%v", build.ID, build.Success)
	return build, nil
}

// runJob executes every stage of one job with its services running.
func (r *Runner) runJob(ctx context.Context, job Job) JobResult {
	started := time.Now()
	result := JobResult{Job: job}
	logging.Job("job %q (%s) starting", job.Name, job.ID)

	services := shell.NewServiceManager()
	defer services.StopAll()

	for _, svc := range r.pipeline.Services {
		logFile := svc.LogFile
		if logFile == "" {
			logFile = filepath.Join(r.workspace, ".gantry", svc.Name+".log")
		}
		_, err := services.Start(shell.ServiceSpec{
			Name:         svc.Name,
			Command:      svc.Command,
			Dir:          r.dirOf(svc.Dir),
			Shell:        r.pipeline.Defaults.ShellOrDefault(),
			LogFile:      logFile,
			ReadyTCP:     svc.ReadyTCP,
			ReadyTimeout: svc.ReadyTimeout,
			Env:          job.Env,
		})
		if err != nil {
			r.printf("[%s] service %s: %v\n", job.Name, svc.Name, err)
			result.FailedStage = "services"
			result.Duration = time.Since(started)
			return result
		}
	}

	failed := ""
	for _, stage := range []struct {
		name  string
		steps []string
	}{
		{StageInstall, r.pipeline.Install},
		{StageBeforeScript, r.pipeline.BeforeScript},
		{StageScript, r.pipeline.Script},
	} {
		if ok := r.runStage(ctx, job, stage.name, stage.steps, &result); !ok {
			failed = stage.name
			break
		}
	}

	// after_* stages never change the job result.
	if failed == "" {
		r.runStage(ctx, job, StageAfterSuccess, r.pipeline.AfterSuccess, &result)
	} else {
		r.runStage(ctx, job, StageAfterFailure, r.pipeline.AfterFailure, &result)
	}
	r.runStage(ctx, job, StageAfterScript, r.pipeline.AfterScript, &result)

	result.Success = failed == ""
	result.FailedStage = failed
	result.Duration = time.Since(started)
	logging.Job("job %q finished: success=%v failed_stage=%q", job.Name, result.Success, failed)
	return result
}

// runStage runs each step of a stage in order. Returns false on the
// first failing step.
func (r *Runner) runStage(ctx context.Context, job Job, stage string, steps []string, result *JobResult) bool {
	for _, line := range steps {
		r.printf("[%s] $ %s\n", job.Name, line)

		res, err := r.executor.Run(ctx, shell.Command{
			Line: line,
			Dir:  r.workspace,
			Env:  job.Env,
		})
		if err != nil {
			// Could not even start the step; synthesize a failed result.
			res = &shell.Result{ExitCode: -1, Stderr: err.Error()}
		}

		result.Steps = append(result.Steps, StepResult{Stage: stage, Line: line, Result: res})
		if out := res.Combined(); out != "" {
			r.printf("%s", out)
			if out[len(out)-1] != '\n' {
				r.printf("\n")
			}
		}

		if !res.Ok() {
			r.printf("[%s] step failed in %s (exit %d)\n", job.Name, stage, res.ExitCode)
			return false
		}
	}
	return true
}

// runCoverage parses the configured profile and uploads when a service
// URL is set.
func (r *Runner) runCoverage(ctx context.Context, build *BuildResult) error {
	cov := r.pipeline.Coverage
	if cov == nil {
		return nil
	}

	profile, err := coverage.ParseFile(r.dirOf(cov.Profile))
	if err != nil {
		return err
	}
	build.CoveragePercent = profile.TotalPercent()
	r.printf("coverage: %.1f%% of statements\n", build.CoveragePercent)

	if cov.ServiceURL == "" {
		return nil
	}

	uploader := &coverage.Uploader{URL: cov.ServiceURL, TokenEnv: cov.TokenEnv}
	return uploader.Upload(ctx, &coverage.Report{
		BuildID: build.ID,
		Tag:     build.Tag,
		Branch:  build.Branch,
		Flags:   cov.Flags,
		Total:   build.CoveragePercent,
		Files:   profile.Files(),
	})
}

// runDeploy evaluates the deploy condition per deploy-eligible job and
// publishes at most once.
func (r *Runner) runDeploy(ctx context.Context, build *BuildResult) (bool, error) {
	d := r.pipeline.Deploy

	for _, jres := range build.Jobs {
		bctx := deploy.BuildContext{
			Tag:       build.Tag,
			Branch:    build.Branch,
			Runtime:   jres.Job.Runtime,
			Env:       EnvMap(jres.Job.Env),
			Workspace: r.workspace,
		}
		ok, _ := deploy.ShouldDeploy(d.On, bctx)
		if !ok {
			continue
		}
		if err := deploy.Run(ctx, d, bctx); err != nil {
			return false, err
		}
		r.printf("deployed via %q\n", d.Provider)
		return true, nil
	}

	r.printf("deploy skipped: no job satisfied the deploy condition\n")
	return false, nil
}

func (r *Runner) dirOf(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.workspace, path)
}
