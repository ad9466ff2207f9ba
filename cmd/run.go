package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/melih-ucgun/doorman/internal/consts"
	"github.com/melih-ucgun/doorman/internal/engine"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep the prefix list in sync until interrupted",
	Long: `Resolves the external address every interval and converges the owned
entry. On SIGINT or SIGTERM the owned entries are removed before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		eng, _, err := a.engine(ctx)
		if err != nil {
			return err
		}

		if addr := a.cfg.MetricsAddr; addr != "" {
			mctx, mcancel := context.WithCancel(context.Background())
			defer mcancel()
			go func() {
				if err := a.metrics.Serve(mctx, addr, a.logger); err != nil {
					a.logger.Error("metrics endpoint failed", "addr", addr, "error", err)
				}
			}()
		}

		err = eng.Run(ctx)
		var cerr *engine.CleanupError
		if errors.As(err, &cerr) {
			a.logger.Error("owned entries may need manual removal", "list", cerr.ListID, "entries", cerr.Failed)
			return &exitError{code: consts.ExitCleanup, err: err}
		}
		if err != nil {
			return err
		}
		a.logger.Info("access revoked, bye")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationP("interval", "i", consts.DefaultInterval, "poll interval (minimum 10s)")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
}
