package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daviddao/poflow/internal/clock"
	"github.com/daviddao/poflow/internal/display"
	"github.com/daviddao/poflow/internal/webhook"
	"github.com/spf13/cobra"
)

var (
	serveAddr        string
	serveNoWebhook   bool
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the inbound webhook",
	Long: `Run poflow as a service.

The scheduler polls the mailbox and sweeps active purchase orders on a fixed
cadence. The webhook accepts inbound mail as JSON on POST /webhook/email.
Both stop on SIGINT or SIGTERM.`,
	Example: `  po serve
  po serve --addr :9090
  po serve --no-webhook`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveNoWebhook && serveNoScheduler {
			return fmt.Errorf("nothing to run: both --no-webhook and --no-scheduler set")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			logger.Info("Received signal, shutting down", "signal", sig)
			cancel()
		}()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		errCh := make(chan error, 2)
		running := 0

		if !serveNoWebhook {
			addr := cfg.Webhook.Addr
			if serveAddr != "" {
				addr = serveAddr
			}
			srv := webhook.NewServer(webhook.Config{
				Addr:  addr,
				Clock: clock.System{},
				Log:   logger,
			}, a.engine)

			running++
			go func() { errCh <- srv.Start() }()
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("Webhook shutdown error", "err", err)
				}
			}()
		}

		if !serveNoScheduler {
			if a.inbox == nil {
				logger.Info("No mailbox account configured; inbound mail only via webhook")
			}
			running++
			go func() { errCh <- a.scheduler().Run(ctx) }()
		}

		var firstErr error
		for i := 0; i < running; i++ {
			err := <-errCh
			if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
				firstErr = err
				cancel()
			}
		}
		return firstErr
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler tick and exit",
	Long: `Run a single scheduler pass: fetch inbound mail, then the system,
reply-ETA and MTC checks. Useful from cron or for debugging a decision.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		rep := a.scheduler().Tick(ctx)
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), rep)
		}
		display.Tick(cmd.OutOrStdout(), rep)
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Webhook listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoWebhook, "no-webhook", false, "Do not start the inbound webhook")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Do not start the scheduler")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tickCmd)
}
