package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-visit-tracker/internal/checklist"
)

func newChecklistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checklist",
		Short: "Print the Fletcher APK checklist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := checklist.Fletcher()
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), c)
			}
			out := cmd.OutOrStdout()
			for _, s := range c.Sections {
				fmt.Fprintf(out, "%s (%d)\n", s.Title, len(s.Items))
				for _, it := range s.Items {
					fmt.Fprintf(out, "  [%s] %s\n", it.Key, it.Label)
				}
			}
			fmt.Fprintf(out, "%d items\n", c.Total())
			return nil
		},
	}
}
