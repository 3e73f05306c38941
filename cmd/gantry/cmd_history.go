package main

import (
	"fmt"
	"time"

	"gantry/internal/history"

	"github.com/spf13/cobra"
)

var historyLimit int

// historyCmd lists past builds from the local history store
var historyCmd = &cobra.Command{
	Use:   "history [build-id]",
	Short: "Show recent builds, or one build's jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.NewStore(workspace)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			return showBuild(store, args[0])
		}

		builds, err := store.RecentBuilds(historyLimit)
		if err != nil {
			return err
		}
		if len(builds) == 0 {
			fmt.Println("no builds recorded")
			return nil
		}
		for _, b := range builds {
			fmt.Printf("%s  %-9s  %s%s\n",
				b.StartedAt.Local().Format(time.DateTime),
				statusWord(b.Success), b.ID, tagSuffix(b.Tag))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of builds to show")
}

func showBuild(store *history.Store, id string) error {
	b, err := store.GetBuild(id)
	if err != nil {
		return err
	}
	fmt.Printf("build %s: %s%s\n", b.ID, statusWord(b.Success), tagSuffix(b.Tag))
	for _, j := range b.Jobs {
		line := fmt.Sprintf("  %-12s %-9s %s", orDefault(j.Runtime), statusWord(j.Success), j.Duration.Round(time.Millisecond))
		if j.FailedStage != "" {
			line += fmt.Sprintf(" (failed in %s)", j.FailedStage)
		}
		if j.AllowFailure {
			line += " [allowed]"
		}
		fmt.Println(line)
	}
	return nil
}

func statusWord(success bool) string {
	if success {
		return "succeeded"
	}
	return "failed"
}

func tagSuffix(tag string) string {
	if tag == "" {
		return ""
	}
	return "  tag=" + tag
}

func orDefault(runtime string) string {
	if runtime == "" {
		return "default"
	}
	return runtime
}
