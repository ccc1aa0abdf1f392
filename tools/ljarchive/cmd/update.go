package cmd

import (
	"github.com/perpetuallyhorni/ljarchive/tools/ljarchive/internal/update"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update ljarchive to the latest version.",
	Long: `Checks for the latest release of ljarchive on GitHub and, if a newer version is found,
downloads and installs it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return update.New().Apply(cmd.Context(), console, version)
	},
}
