package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eloisaabril01/emailscrap/internal/app"
	"github.com/eloisaabril01/emailscrap/internal/server"
)

const (
	runDrainTimeout = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP control surface",
	Long: `Serve progress, control and export endpoints over HTTP.

On shutdown an active search is stopped and its results are saved before the server exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := serveAddr
		if addr == "" {
			addr = cfg.Server.Addr
		}
		// Runs outlive the signal context so a stopped search can still export.
		runner := app.NewRunner(context.WithoutCancel(ctx), a.Coordinator)
		srv := server.New(runner, a.Sink, server.Options{AllowedOrigins: cfg.Server.AllowedOrigins})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Start(addr)
		})
		g.Go(func() error {
			<-gctx.Done()
			pterm.Info.Println("Shutting down...")
			if runner.Stop() {
				drainCtx, cancel := context.WithTimeout(context.Background(), runDrainTimeout)
				defer cancel()
				_ = runner.Wait(drainCtx)
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		pterm.Success.Printfln("Listening on %s", addr)
		if err := g.Wait(); err != nil {
			return err
		}
		pterm.Success.Println("Server stopped cleanly")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from server.addr)")
}
