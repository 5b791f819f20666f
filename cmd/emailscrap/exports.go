package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/eloisaabril01/emailscrap/internal/app"
	"github.com/eloisaabril01/emailscrap/internal/export"
)

var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Merge every export file into one combined table",
	RunE: func(cmd *cobra.Command, args []string) error {
		sink, err := app.OpenSink(cfg.Export)
		if err != nil {
			return err
		}
		summary, err := sink.Combine(cmd.Context())
		if errors.Is(err, export.ErrNoDestinations) {
			pterm.Warning.Printfln("No export files in %s", sink.Dir())
			return nil
		}
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Combined %d records from %d files into %s",
			summary.TotalRecords, len(summary.Sources), summary.Path)
		for _, name := range summary.Skipped {
			pterm.Warning.Printfln("Skipped unreadable file %s", name)
		}
		return nil
	},
}

var exportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "List export files, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		sink, err := app.OpenSink(cfg.Export)
		if err != nil {
			return err
		}
		files, err := sink.List()
		if err != nil {
			return err
		}
		if len(files) == 0 {
			pterm.Info.Printfln("No export files in %s", sink.Dir())
			return nil
		}
		data := pterm.TableData{{"File", "Size", "Modified"}}
		for _, f := range files {
			data = append(data, []string{f.Name, humanSize(f.Size), f.Modified.Format("2006-01-02 15:04")})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
