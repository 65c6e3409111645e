package cli

import (
	"github.com/spf13/cobra"

	"github.com/ThunderHDs/taskmaster-sub001/history"
)

func addHistory(root *cobra.Command, a *app) {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded, undone and redone actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := history.OpenJournal(journalPath(a.cfg)).Entries(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			printJournal(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show only the most recent entries (0 for all)")
	root.AddCommand(cmd)
}
