package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gordyrad/chat-pulse/internal/activity"
	"github.com/gordyrad/chat-pulse/internal/bot"
	"github.com/gordyrad/chat-pulse/internal/pipeline"
	"github.com/gordyrad/chat-pulse/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot: track activity and drive the summary workflow",
	Long: `Connects to Telegram, records channel messages, flags channels that become
hot and, when summaries are enabled, runs the relevance check and asks admins
to approve a full summary.

Exit codes:
  0  Clean shutdown (SIGINT/SIGTERM)
  1  Runtime failure
  3  Configuration error`,
	RunE: func(cmd *cobra.Command, args []string) error {
		requireValidConfig()
		if cfg.Telegram.Token == "" {
			fmt.Fprintln(os.Stderr, "Configuration error: a Telegram bot token is required (--telegram-token or TELEGRAM_BOT_TOKEN)")
			os.Exit(3)
		}

		logger := newLogger(cfg.Verbose)

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		b, err := bot.New(cfg, s, logger)
		if err != nil {
			return fmt.Errorf("connecting to telegram: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			workflow   bot.Workflow
			maintainer scheduler.Maintainer
		)
		if cfg.Summary.Enabled {
			p, err := pipeline.New(cfg, s, b, b, logger)
			if err != nil {
				return fmt.Errorf("creating pipeline: %w", err)
			}
			defer p.Close()
			if err := p.Manager().Load(ctx); err != nil {
				return fmt.Errorf("loading workflow state: %w", err)
			}
			workflow, maintainer = p.Manager(), p.Manager()
		} else {
			logger.Info("summary workflow disabled")
		}

		detector := activity.New(cfg.Activity, cfg.Location(), s, logger)
		if err := detector.Load(ctx); err != nil {
			return fmt.Errorf("loading activity state: %w", err)
		}
		b.Attach(detector, workflow)

		sched := scheduler.New(detector, maintainer, s, cfg.Summary.MaintenanceInterval, logger)

		logger.Info("serving",
			"db_path", cfg.DBPath,
			"summaries", cfg.Summary.Enabled,
			"provider", cfg.LLM.Provider,
			"dry_run", cfg.Summary.DryRun,
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			b.Run(gctx)
			return nil
		})
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
