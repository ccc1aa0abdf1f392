package cmd

import (
	"fmt"
	"os"
	"strconv"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/perpetuallyhorni/ljarchive/pkg/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// debugCmd groups commands that print raw server answers.
var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging tools for ljarchive.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var debugSyncItemsCmd = &cobra.Command{
	Use:   "syncitems <section> <journal>",
	Short: "List every post of a journal with its last change time.",
	Long: `This command is for debugging. It walks the whole change log of a journal and
prints one line per post: its server id and the time it was last created or edited.
Nothing is written to the archive.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := debugJournal(args[0], args[1])
		if err != nil {
			return err
		}
		conn, err := appClient.Conn(j)
		if err != nil {
			return err
		}
		items, err := conn.SyncItems(cmd.Context(), ljarchive.MinSyncDate)
		if err != nil {
			return errors.Wrapf(err, "failed to get sync items of %s", journalLabel(j))
		}
		out := cmd.OutOrStdout()
		for _, item := range items {
			fmt.Fprintf(out, "%d\t%s\n", item.ID, item.Time.Format(ljarchive.DateFormat))
		}
		console.Info("%d post(s)", len(items))
		return nil
	},
}

var debugPostCmd = &cobra.Command{
	Use:   "post <section> <journal> <itemid>",
	Short: "Dump the raw getevents answer of one post.",
	Long: `This command is for debugging. It fetches one post by its server id and prints
the unprocessed key/value pairs of the answer in the order the server sent them.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := strconv.Atoi(args[2])
		if err != nil {
			return errors.Wrapf(err, "bad item id %q", args[2])
		}
		j, err := debugJournal(args[0], args[1])
		if err != nil {
			return err
		}
		conn, err := appClient.Conn(j)
		if err != nil {
			return err
		}
		answer, err := conn.Event(cmd.Context(), itemID)
		if err != nil {
			return errors.Wrapf(err, "failed to get post %d of %s", itemID, journalLabel(j))
		}
		out := cmd.OutOrStdout()
		for _, key := range answer.Keys() {
			fmt.Fprintf(out, "%s\n%s\n", key, answer.Value(key))
		}
		return nil
	},
}

// debugJournal looks up a journal, ignored or not, and makes sure it has a password.
func debugJournal(section, user string) (config.Journal, error) {
	j, ok := cfg.Journal(section, user)
	if !ok {
		return config.Journal{}, errors.Errorf("journal %s/%s is not in %s", section, user, cfg.Path)
	}
	journals := []config.Journal{j}
	if err := resolvePasswords(journals, os.Stdin); err != nil {
		return config.Journal{}, err
	}
	return journals[0], nil
}

func init() {
	debugCmd.AddCommand(debugSyncItemsCmd)
	debugCmd.AddCommand(debugPostCmd)
}
