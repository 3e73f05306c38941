package main

import (
	"fmt"
	"os"

	"gantry/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "gantry - local-first CI pipeline runner",
	Long: `gantry runs declarative YAML pipelines: a runtime matrix, ordered
install/script step lists, background services, coverage reporting, and a
tag-conditional deploy stage. It also ships a browser-behavior driver for
running scenario files against a live application.

A pipeline lives in .gantry.yml at the workspace root.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}
		}
		if err := logging.Initialize(workspace, verbose); err != nil {
			return fmt.Errorf("initialize file logging: %w", err)
		}
		if verbose {
			logging.SetLevel(logging.LevelDebug)
		} else {
			logging.SetLevel(logging.LevelInfo)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gantry version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gantry %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "pipeline file (default .gantry.yml in the workspace)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default current directory)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(scenarioCmd)
	rootCmd.AddCommand(encryptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
