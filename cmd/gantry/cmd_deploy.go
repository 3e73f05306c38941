package main

import (
	"fmt"
	"os"

	"gantry/internal/config"
	"gantry/internal/deploy"

	"github.com/spf13/cobra"
)

var (
	deployTag     string
	deployBranch  string
	deployRuntime string
	deployForce   bool
)

// deployCmd runs the deploy stage on its own, for re-publishing a build
// that already passed.
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run the deploy stage without a build",
	Long: `Evaluates the pipeline's deploy condition against the given context
and publishes when it holds. --force skips condition evaluation.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&deployTag, "tag", os.Getenv("GANTRY_TAG"), "tag for condition evaluation")
	deployCmd.Flags().StringVar(&deployBranch, "branch", os.Getenv("GANTRY_BRANCH"), "branch for condition evaluation")
	deployCmd.Flags().StringVar(&deployRuntime, "runtime", "", "runtime for condition evaluation")
	deployCmd.Flags().BoolVar(&deployForce, "force", false, "deploy regardless of conditions")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	p, err := config.Load(pipelinePath())
	if err != nil {
		return err
	}
	if p.Deploy == nil {
		return fmt.Errorf("pipeline has no deploy block")
	}

	bctx := deploy.BuildContext{
		Tag:       deployTag,
		Branch:    deployBranch,
		Runtime:   deployRuntime,
		Workspace: workspace,
	}

	d := *p.Deploy
	if deployForce {
		d.On = config.DeployCondition{}
	}

	if err := deploy.Run(cmd.Context(), &d, bctx); err != nil {
		return err
	}

	ok, reason := deploy.ShouldDeploy(d.On, bctx)
	if !ok {
		fmt.Printf("deploy skipped: %s\n", reason)
	} else {
		fmt.Printf("deploy via %q finished\n", d.Provider)
	}
	return nil
}
