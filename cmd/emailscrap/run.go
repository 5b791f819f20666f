package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/eloisaabril01/emailscrap/internal/app"
)

var (
	runQuery string
	runLimit int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one search in the foreground",
	Long: `Run one search and append the verified businesses to the query's export file.

Ctrl+C stops the search and still saves the results found so far; a second Ctrl+C
abandons in-flight requests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runLimit <= 0 {
			return errors.Newf("--limit must be positive, got %d", runLimit)
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := app.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		a.Tracker.Arm()
		sigChan := make(chan os.Signal, 2)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			select {
			case <-sigChan:
			case <-ctx.Done():
				return
			}
			pterm.Info.Println("Stopping, saving results found so far (press Ctrl+C again to abort requests)...")
			a.Tracker.RequestCancel()
			select {
			case <-sigChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		reporterCtx, stopReporter := context.WithCancel(ctx)
		reported := make(chan struct{})
		go func() {
			defer close(reported)
			app.NewCLIReporter(a.Tracker).Watch(reporterCtx)
		}()

		summary, err := a.Coordinator.Run(ctx, runQuery, runLimit)
		stopReporter()
		<-reported
		if err != nil {
			return err
		}
		if summary.ExportErr != nil {
			return errors.Wrap(summary.ExportErr, "export failed")
		}
		if summary.Exported > 0 {
			pterm.Info.Printfln("Export: %s", summary.Destination.Path)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runQuery, "query", "q", "", "Search query, e.g. \"dentists in Leeds\"")
	runCmd.Flags().IntVarP(&runLimit, "limit", "n", 10, "Number of businesses with verified emails to find")
	_ = runCmd.MarkFlagRequired("query")
}
