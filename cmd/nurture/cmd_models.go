package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/talkxo/sequence-email/internal/dispatch"
)

func init() {
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the candidate models in priority order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := dispatch.NewRegistry(nil)
		best := reg.Best()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRIORITY\tID\tNAME\tCONTEXT\tSPEED\tQUALITY\t")
		for _, m := range reg.Models() {
			marker := ""
			if m.ID == best.ID {
				marker = "*"
			}
			fmt.Fprintf(w, "%d%s\t%s\t%s\t%d\t%s\t%s\t\n", m.Priority, marker, m.ID, m.Name, m.ContextLength, m.Speed, m.Quality)
		}
		return w.Flush()
	},
}
