package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"stemgen/catalog"

	"github.com/spf13/cobra"
)

// historyCmd lists catalog entries
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List split jobs recorded in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		cat, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		defer cat.Close()

		var f catalog.Filter
		f.FailedOnly, _ = cmd.Flags().GetBool("failed")
		f.Limit, _ = cmd.Flags().GetInt("limit")
		f.Source, _ = cmd.Flags().GetString("source")

		jobs, err := cat.List(context.Background(), f)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FINISHED\tSTATUS\tTOOK\tMODE\tSOURCE\tSTORE")
		for _, j := range jobs {
			status := "ok"
			if j.Failed {
				status = "failed: " + j.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				j.Finished.Format(time.DateTime), status, j.Duration().Round(time.Second), j.Mode, j.Source, j.ID)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Bool("failed", false, "only failed jobs")
	historyCmd.Flags().Int("limit", 20, "maximum number of jobs, 0 for all")
	historyCmd.Flags().String("source", "", "only jobs for this source file")
}
