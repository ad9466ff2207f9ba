package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the prefix list and which entries are ours",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		client, err := a.client(context.Background())
		if err != nil {
			return err
		}

		snap, err := client.Snapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("cannot read prefix list %s: %w", a.cfg.PrefixListID, err)
		}

		info := snap.Info
		a.ui.Title(fmt.Sprintf("%s (%s)", info.ID, info.Name))
		a.ui.Printf("version %s, %s, state %s, %d/%s entries\n\n",
			info.Version, info.AddressFamily, info.State, len(snap.Entries), maxEntries(info.MaxEntries))

		rows := [][]string{{"CIDR", "Description", "Owned"}}
		for _, e := range snap.Entries {
			owned := ""
			if e.Owned(a.cfg.Tag()) {
				owned = "yes"
			}
			rows = append(rows, []string{e.CIDR.String(), e.Description, owned})
		}
		if err := a.ui.Table(rows); err != nil {
			return err
		}

		if n := len(snap.Owned(a.cfg.Tag())); n > 1 {
			a.ui.Warning(fmt.Sprintf("%d entries carry the tag %q; the next cycle will remove the extras", n, a.cfg.Tag()))
		}
		return nil
	},
}

func maxEntries(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
