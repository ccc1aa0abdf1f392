package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/perpetuallyhorni/ljarchive/pkg/storage"
	"github.com/spf13/cobra"
)

// historyCmd lists recorded archive runs.
var historyCmd = &cobra.Command{
	Use:   "history [section[/journal]]",
	Short: "Show recent archive runs.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		filter := storage.Filter{Limit: limit}
		if len(args) == 1 {
			filter.Section, filter.Journal, _ = strings.Cut(args[0], "/")
		}
		runs, err := database.RecentRuns(filter)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			console.Info("No runs recorded yet.")
			return nil
		}
		return printRuns(runs)
	},
}

func printRuns(runs []storage.RunRecord) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tJOURNAL\tDURATION\tPOSTS\tCOMMENTS\tSTATUS")
	for _, r := range runs {
		status := "ok"
		if r.Failed() {
			status = "failed: " + r.Error
		}
		fmt.Fprintf(w, "%s\t%s/%s\t%s\t+%d -%d\t+%d ~%d -%d\t%s\n",
			r.Started.Format("2006-01-02 15:04:05"), r.Section, r.Journal,
			r.Finished.Sub(r.Started).Round(time.Second),
			r.PostsWritten, r.PostsDeleted,
			r.CommentsAdded, r.CommentsUpdated, r.CommentsRemoved,
			status)
	}
	return w.Flush()
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
}
