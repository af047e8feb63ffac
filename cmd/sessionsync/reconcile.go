package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/sessionsync/pkg/client"
	"github.com/cuemby/sessionsync/pkg/reconciler"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation cycle",
	Long: `Run one reconciliation cycle and print its summary.

By default the cycle runs on the server given by --server. With --local the
cycle runs in this process against the configured store and session host,
which suits cron jobs and one-off cleanups.

Examples:
  # Preview what the next cycle would change
  sessionsync reconcile --dry-run

  # Run a cycle without a server
  sessionsync reconcile --local --config /etc/sessionsync/sessionsync.yaml -o json`,
	RunE: runReconcile,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent reconciliation cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		cycles, err := c.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return p.History(cycles)
	},
}

func init() {
	reconcileCmd.Flags().Bool("dry-run", false, "Show the plan without changing anything")
	reconcileCmd.Flags().Bool("local", false, "Run in-process instead of on the server")
	historyCmd.Flags().Int("limit", 20, "Number of cycles to show")

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(historyCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	local, _ := cmd.Flags().GetBool("local")

	if local {
		return reconcileLocal(cmd, p, dryRun)
	}

	c, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	if dryRun {
		plan, err := c.Plan(cmd.Context())
		if err != nil {
			return err
		}
		return p.Plan(plan)
	}
	summary, err := c.Reconcile(cmd.Context())
	if err != nil {
		if errors.Is(err, reconciler.ErrCycleInProgress) {
			return fmt.Errorf("a reconciliation cycle is already running on the server")
		}
		return err
	}
	return p.Summary(summary)
}

func reconcileLocal(cmd *cobra.Command, p *printer, dryRun bool) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if dryRun {
		plan, healthy, err := a.reconciler.Plan(ctx)
		if err != nil {
			return err
		}
		return p.Plan(&client.Plan{HostHealthy: healthy, Entries: plan.Entries})
	}

	summary, err := a.reconciler.RunCycle(ctx)
	if err != nil {
		return err
	}
	return p.Summary(summary)
}

func newAPIClient(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	return client.NewClient(server, token)
}
