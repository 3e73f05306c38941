package main

import (
	"fmt"

	"gantry/internal/config"
	"gantry/internal/pipeline"

	"github.com/spf13/cobra"
)

// validateCmd checks the pipeline file without running anything
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the pipeline file",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.Load(pipelinePath())
		if err != nil {
			return err
		}

		jobs := pipeline.Plan(p)
		fmt.Printf("%s is valid: %d job(s)\n", pipelinePath(), len(jobs))
		for _, j := range jobs {
			marker := ""
			if j.AllowFailure {
				marker = " (allow failure)"
			}
			fmt.Printf("  - %s%s\n", j.Name, marker)
		}
		if p.Deploy != nil {
			fmt.Printf("deploy: provider %q\n", p.Deploy.Provider)
		}
		return nil
	},
}
