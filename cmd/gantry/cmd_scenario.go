package main

import (
	"fmt"
	"time"

	"gantry/internal/driver"

	"github.com/spf13/cobra"
)

var (
	scenarioHeadless    bool
	scenarioDebuggerURL string
	scenarioBaseURL     string
	scenarioWaitMs      int
)

// scenarioCmd groups browser scenario commands
var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Browser scenario commands",
}

var scenarioRunCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Execute browser scenario files",
	Long: `Runs each scenario file against a browser. By default a headless
Chrome is launched; --debugger-url attaches to a running instance instead.

Scenario steps drive the page: open, click, click_link, fill, press, wait,
assert, select, scroll, drag, pause. Selectors starting with // are XPath,
otherwise CSS.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScenarios,
}

var scenarioCheckCmd = &cobra.Command{
	Use:   "check [files...]",
	Short: "Validate scenario files without a browser",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			s, err := driver.LoadScenario(path)
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok (%d steps)\n", path, len(s.Steps))
		}
		return nil
	},
}

func init() {
	scenarioRunCmd.Flags().BoolVar(&scenarioHeadless, "headless", true, "run the browser headless")
	scenarioRunCmd.Flags().StringVar(&scenarioDebuggerURL, "debugger-url", "", "attach to a running Chrome instead of launching")
	scenarioRunCmd.Flags().StringVar(&scenarioBaseURL, "base-url", "", "override scenario base URLs")
	scenarioRunCmd.Flags().IntVar(&scenarioWaitMs, "default-wait", 0, "default condition wait in milliseconds")

	scenarioCmd.AddCommand(scenarioRunCmd)
	scenarioCmd.AddCommand(scenarioCheckCmd)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	d := driver.New(driver.Options{
		DebuggerURL: scenarioDebuggerURL,
		Headless:    scenarioHeadless,
		DefaultWait: time.Duration(scenarioWaitMs) * time.Millisecond,
	})
	if err := d.Start(cmd.Context()); err != nil {
		return err
	}
	defer d.Close()

	failed := 0
	for _, path := range args {
		s, err := driver.LoadScenario(path)
		if err != nil {
			return err
		}
		if scenarioBaseURL != "" {
			s.BaseURL = scenarioBaseURL
		}

		started := time.Now()
		if err := s.Run(cmd.Context(), d); err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Printf("PASS %s (%s)\n", path, time.Since(started).Round(time.Millisecond))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenario(s) failed", failed, len(args))
	}
	return nil
}
