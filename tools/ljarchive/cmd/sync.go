package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/perpetuallyhorni/ljarchive/pkg/client"
	"github.com/perpetuallyhorni/ljarchive/pkg/config"
	"github.com/perpetuallyhorni/ljarchive/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// syncCmd is the explicit form of the default command.
var syncCmd = &cobra.Command{
	Use:   "sync [section[/journal]...]",
	Short: "Archive the configured journals (the default command).",
	Long: `Archive the configured journals one after another. Without arguments every journal
that is not ignored is archived; "section" selects the journals of a section and
"section/journal" selects one journal, even an ignored one.`,
	Args: cobra.ArbitraryArgs,
	RunE: runSync,
}

// runSync archives the selected journals one after another.
func runSync(_ *cobra.Command, args []string) error {
	journals, err := selectJournals(&cfg.Config, args)
	if err != nil {
		return err
	}
	if len(journals) == 0 {
		console.Warn("No journals to archive. Add users to %s", cfg.Path)
		return nil
	}
	if err := resolvePasswords(journals, os.Stdin); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := func(j config.Journal) client.ProgressCallback {
		label := journalLabel(j)
		console.StartProgress(label + ": starting")
		return func(current, total int, msg string) {
			console.UpdateProgress(fmt.Sprintf("%s: %s", label, msg))
		}
	}
	done := func(j config.Journal, run storage.RunRecord, err error) {
		console.StopProgress()
		if err != nil {
			console.Error("Failed to archive %s: %v", journalLabel(j), err)
			return
		}
		console.Success("%s: %s", journalLabel(j), runSummary(run))
	}

	failed := appClient.ArchiveAll(ctx, journals, start, done)
	if failed > 0 {
		return errors.Errorf("%d of %d journal(s) failed", failed, len(journals))
	}
	return nil
}

// runSummary describes the changes of a run.
func runSummary(run storage.RunRecord) string {
	return fmt.Sprintf("%d post(s) written, %d deleted; %d comment(s) added, %d updated",
		run.PostsWritten, run.PostsDeleted, run.CommentsAdded, run.CommentsUpdated)
}
