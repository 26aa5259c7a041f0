package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/hexflow/pkg/api"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain stored workflow sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(a),
		newSessionsStatsCmd(a),
		newSessionsExpireCmd(a),
	)
	return cmd
}

func newSessionsListCmd(a *app) *cobra.Command {
	var filter struct {
		workflow string
		status   string
	}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := api.Status(filter.status)
			if status != "" && !status.Valid() {
				return fmt.Errorf("unknown status %q", filter.status)
			}

			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			sessions, err := store.List(cmd.Context(), api.SessionFilter{
				WorkflowName: filter.workflow,
				Status:       status,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOKEN\tWORKFLOW\tSTEP\tSTATUS\tPROGRESS\tUPDATED")
			for _, rec := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
					rec.WorkflowToken, rec.WorkflowName, rec.CurrentStep, rec.Status,
					rec.Metadata.ProgressPercentage, rec.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.workflow, "workflow", "", "only sessions of this workflow")
	cmd.Flags().StringVar(&filter.status, "status", "", "only sessions in this status")
	return cmd
}

func newSessionsStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show session counts by status and workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "total sessions: %d\n", stats.TotalSessions)

			statuses := make([]string, 0, len(stats.StatusCounts))
			for s := range stats.StatusCounts {
				statuses = append(statuses, string(s))
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Fprintf(out, "  status %-12s %d\n", s, stats.StatusCounts[api.Status(s)])
			}

			workflows := make([]string, 0, len(stats.WorkflowCounts))
			for name := range stats.WorkflowCounts {
				workflows = append(workflows, name)
			}
			sort.Strings(workflows)
			for _, name := range workflows {
				fmt.Fprintf(out, "  workflow %-10s %d\n", name, stats.WorkflowCounts[name])
			}
			return nil
		},
	}
}

func newSessionsExpireCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Delete sessions older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				days = cfg.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}

			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := store.Expire(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d sessions older than %d days\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "maximum session age in days (default: retention_days)")
	return cmd
}
