package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/melih-ucgun/doorman/internal/consts"
	"github.com/melih-ucgun/doorman/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single reconciliation cycle",
	Long: `Converges the prefix list once and exits, leaving the entry in place.
With --dry-run the planned change is printed and nothing is modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		eng, _, err := a.engine(ctx)
		if err != nil {
			return err
		}

		if dryRun {
			plan, err := eng.Plan(ctx)
			if err != nil {
				return err
			}
			renderPlan(a, plan)
			return nil
		}

		out := eng.Reconcile(ctx)
		if out.Kind == engine.Failed {
			return withCode(consts.ExitStartup, "sync failed: %w", out.Err)
		}
		a.ui.Success(out.String())
		return nil
	},
}

func renderPlan(a *app, plan engine.Plan) {
	a.ui.Section("Plan for " + a.cfg.PrefixListID)
	if plan.Empty() {
		a.ui.Success("already in sync: " + plan.Desired.String())
		return
	}
	if len(plan.Remove) > 0 {
		a.ui.Warning("duplicate owned entries will be removed")
	}
	a.ui.Printf("%s", plan.Diff())
	a.ui.Info("would be " + plan.Step().String())
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("dry-run", false, "show what would change without modifying the list")
}
