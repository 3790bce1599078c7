package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/quarantine/internal/remediation"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the registered actions in run order",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRIORITY\tNAME")
		for _, d := range remediation.Default().Descriptors() {
			fmt.Fprintf(w, "%d\t%s\n", d.Priority, d.Name)
		}
		w.Flush()
	},
}
