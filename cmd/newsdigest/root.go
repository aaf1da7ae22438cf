package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"newsdigest/internal/config"
	"newsdigest/internal/digest"
	"newsdigest/internal/notify"
	"newsdigest/internal/scheduler"
)

type rootOptions struct {
	envFile string
	date    string
}

// newRootCmd builds the command tree around a; the caller closes a after Execute.
func newRootCmd(a *app) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "newsdigest",
		Short:         "Collect ticker news feeds and deliver a daily digest",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.configure(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default: ./.env if present)")
	root.PersistentFlags().StringVar(&opts.date, "date", "", "target date YYYY-MM-DD (default: today)")

	root.AddCommand(
		newIngestCmd(a),
		newExportCmd(a, opts),
		newRunCmd(a, opts),
		newServeCmd(a),
		newPingDBCmd(a),
		newTestTelegramCmd(a),
	)
	return root
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch every subscription feed and store new articles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			store, err := a.openStore()
			if err != nil {
				return err
			}
			summary, err := a.ingester(store).RunIngest(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d attempted=%d inserted=%d failed_feeds=%d\n",
				summary.Fetched, summary.Attempted, summary.Inserted, summary.FailedFeeds)
			return nil
		},
	}
}

func newExportCmd(a *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the day's articles and deliver the digest without ingesting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			day, err := a.targetDate(opts.date)
			if err != nil {
				return err
			}
			runner, err := a.runner()
			if err != nil {
				return err
			}
			a.logDelivery(runner.Deliver(ctx, day))
			return nil
		},
	}
}

func newRunCmd(a *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Ingest, then export and deliver the digest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			day, err := a.targetDate(opts.date)
			if err != nil {
				return err
			}
			runner, err := a.runner()
			if err != nil {
				return err
			}
			report, err := runner.Run(ctx, day)
			if err != nil {
				return err
			}
			a.logDelivery(report.Delivery)
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the full pipeline now and then every SCHEDULE_INTERVAL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			runner, err := a.runner()
			if err != nil {
				return err
			}

			job := func(ctx context.Context) error {
				report, err := runner.Run(ctx, a.cfg.Today())
				if err != nil {
					return err
				}
				a.logDelivery(report.Delivery)
				return nil
			}

			a.log.Info("starting scheduler", "interval", a.cfg.ScheduleInterval)
			scheduler.New(job, a.cfg.ScheduleInterval, a.log.With("component", "scheduler")).Run(ctx)
			a.log.Info("scheduler stopped")
			return nil
		},
	}
}

func newPingDBCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping-db",
		Short: "Check the database connection and print its version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Ping(ctx); err != nil {
				return err
			}
			version, err := store.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", store.Dialect(), version)
			return nil
		},
	}
}

func newTestTelegramCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test-telegram",
		Short: "Send a probe message to every configured chat",
		RunE: func(cmd *cobra.Command, _ []string) error {
			results := a.notifier().SendMessage(cmd.Context(), digest.MessagePrefix+" Telegram delivery test message.")
			for _, r := range results {
				status := "ok"
				if r.Err != nil {
					status = r.Err.Error()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", r.Recipient, status)
			}
			if n := notify.Failed(results); n > 0 {
				return fmt.Errorf("%d of %d deliveries failed", n, len(results))
			}
			return nil
		},
	}
}
