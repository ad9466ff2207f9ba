package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Probe the external address and show each answer",
	Long:  `Runs every configured probe, prints its answer and the consensus result. The list is not touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		res, err := a.resolver()
		if err != nil {
			return err
		}

		answers := res.Answers(ctx)
		rows := [][]string{{"Probe", "Address", "Error"}}
		for _, ans := range answers {
			addr, errText := "", ""
			if ans.Err != nil {
				errText = ans.Err.Error()
			} else {
				addr = ans.Addr.String()
			}
			rows = append(rows, []string{ans.Probe, addr, errText})
		}
		if err := a.ui.Table(rows); err != nil {
			return err
		}

		addr, err := res.Policy().Decide(answers)
		if err != nil {
			a.ui.Error("no consensus (" + res.Policy().Name() + "): " + err.Error())
			return err
		}
		a.ui.Success(res.Policy().Name() + ": " + addr.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
