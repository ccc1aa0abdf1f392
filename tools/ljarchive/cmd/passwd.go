package cmd

import (
	"fmt"
	"os"

	"github.com/perpetuallyhorni/ljarchive/tools/ljarchive/internal/password"
	"github.com/spf13/cobra"
)

// passwdCmd prints the password_hash value of a password.
var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Print the password_hash of a password for the config file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := password.Prompt(os.Stderr, os.Stdin, "Password: ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), password.Hash(pw))
		return nil
	},
}
