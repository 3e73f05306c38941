package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gantry/internal/config"
	"gantry/internal/history"
	"gantry/internal/logging"
	"gantry/internal/pipeline"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runTag     string
	runBranch  string
	runRuntime string
	runWatch   bool
	skipDeploy bool
)

// runCmd executes the pipeline
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the pipeline",
	Long: `Expands the runtime matrix into jobs and runs each job's stages in
order: install, before_script, script, then after_success/after_failure and
after_script. A successful build continues into the coverage and deploy
stages. With --watch, the build re-runs when the pipeline file changes.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runTag, "tag", os.Getenv("GANTRY_TAG"), "tag for this build (deploy conditions)")
	runCmd.Flags().StringVar(&runBranch, "branch", os.Getenv("GANTRY_BRANCH"), "branch for this build (deploy conditions)")
	runCmd.Flags().StringVar(&runRuntime, "runtime", "", "run only the matrix jobs with this runtime")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "re-run when the pipeline file changes")
	runCmd.Flags().BoolVar(&skipDeploy, "skip-deploy", false, "never run the deploy stage")
}

func pipelinePath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(workspace, config.DefaultFile)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !runWatch {
		ok, err := runOnce(ctx)
		if err != nil {
			return err
		}
		if !ok {
			os.Exit(1)
		}
		return nil
	}

	// Watch mode: run, then re-run on settled changes until interrupted.
	rerun := make(chan string, 1)
	w, err := pipeline.NewWatcher([]string{pipelinePath()}, func(path string) {
		select {
		case rerun <- path:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", pipelinePath(), err)
	}
	w.Start(ctx)
	defer w.Stop()

	for {
		if _, err := runOnce(ctx); err != nil {
			// In watch mode a broken pipeline file is a retry, not an exit.
			fmt.Fprintf(os.Stderr, "build error: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case path := <-rerun:
			logging.Get(logging.CategoryWatch).Info("change in %s, re-running", path)
			fmt.Println("--- change detected, re-running ---")
		}
	}
}

// runOnce loads, runs, and records a single build. The bool reports
// build success; errors are infrastructure problems.
func runOnce(ctx context.Context) (bool, error) {
	p, err := config.Load(pipelinePath())
	if err != nil {
		return false, err
	}

	r := pipeline.NewRunner(p, workspace)
	r.Tag = runTag
	r.Branch = runBranch
	r.RuntimeFilter = runRuntime
	r.Output = os.Stdout
	r.RunDeploy = !skipDeploy

	started := time.Now()
	build, err := r.Run(ctx)
	if err != nil {
		return false, err
	}

	recordBuild(build)

	status := "succeeded"
	if !build.Success {
		status = "failed"
	}
	logger.Info("build finished",
		zap.String("build_id", build.ID),
		zap.String("status", status),
		zap.Duration("duration", time.Since(started)),
		zap.Bool("deployed", build.Deployed))
	fmt.Printf("build %s %s in %s\n", build.ID, status, time.Since(started).Round(time.Millisecond))
	return build.Success, nil
}

// recordBuild persists the result; history problems never fail a build.
func recordBuild(build *pipeline.BuildResult) {
	store, err := history.NewStore(workspace)
	if err != nil {
		logger.Warn("history store unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	rec := history.BuildRecord{
		ID:         build.ID,
		Tag:        build.Tag,
		Branch:     build.Branch,
		Success:    build.Success,
		StartedAt:  build.StartedAt,
		FinishedAt: build.FinishedAt,
	}
	for _, j := range build.Jobs {
		rec.Jobs = append(rec.Jobs, history.JobRecord{
			ID:           j.Job.ID,
			BuildID:      build.ID,
			Runtime:      j.Job.Runtime,
			Success:      j.Success,
			AllowFailure: j.Job.AllowFailure,
			FailedStage:  j.FailedStage,
			Duration:     j.Duration,
		})
	}
	if err := store.RecordBuild(rec); err != nil {
		logger.Warn("failed to record build", zap.Error(err))
	}
}
