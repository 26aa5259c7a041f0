package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petrijr/hexflow/pkg/worker"
)

func newJanitorCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Expire old sessions and mark idle ones abandoned",
		Long: `janitor removes sessions older than retention_days and, when abandon_after
is set, marks in-progress sessions idle for longer than that as abandoned.
It runs every janitor_interval until interrupted, or a single pass with --once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			j := worker.NewJanitor(store, worker.Config{
				RetentionDays: cfg.RetentionDays,
				AbandonAfter:  cfg.AbandonAfter,
				Interval:      cfg.JanitorInterval,
			}, logger)

			if once {
				res, err := j.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d, abandoned %d, skipped %d\n",
					res.Expired, res.Abandoned, res.Skipped)
				return nil
			}

			if err := j.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	cmd.Flags().Int("retention-days", 30, "delete sessions older than this many days")
	cmd.Flags().Duration("abandon-after", 0, "mark in-progress sessions idle this long as abandoned (0 disables)")
	cmd.Flags().Duration("interval", 0, "time between passes (default: janitor_interval)")
	_ = a.v.BindPFlag("retention_days", cmd.Flags().Lookup("retention-days"))
	_ = a.v.BindPFlag("abandon_after", cmd.Flags().Lookup("abandon-after"))
	_ = a.v.BindPFlag("janitor_interval", cmd.Flags().Lookup("interval"))
	return cmd
}
