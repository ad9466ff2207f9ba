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

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove every entry owned by this agent",
	Long:  `Removes the entries whose description matches the configured tag, then exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		err = eng.Cleanup(ctx)
		var cerr *engine.CleanupError
		if errors.As(err, &cerr) {
			return &exitError{code: consts.ExitCleanup, err: err}
		}
		if err != nil {
			return err
		}
		a.ui.Success("owned entries removed from " + a.cfg.PrefixListID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
