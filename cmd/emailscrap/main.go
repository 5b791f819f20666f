package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eloisaabril01/emailscrap/internal/config"
	"github.com/eloisaabril01/emailscrap/internal/logger"
	"github.com/eloisaabril01/emailscrap/internal/redact"
)

var (
	configPath string
	logJSON    bool
	verbosity  int

	// cfg is loaded by the root PersistentPreRunE for every command but version.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "emailscrap",
	Short: "Find businesses for a search and collect their verified contact emails",
	Long: `emailscrap discovers business listings for a search query, visits each website,
extracts verified contact emails and appends new businesses to a per-query export.

Examples:
  emailscrap run --query "plumbers in Austin" --limit 20
  emailscrap serve --addr :8580
  emailscrap exports
  emailscrap combine`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if err := logger.InitializeLevel(logJSON || cfg.Log.JSON, logger.VerbosityLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(combineCmd)
	rootCmd.AddCommand(exportsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %s\n", redact.Secrets(err.Error()))
		os.Exit(1)
	}
}
