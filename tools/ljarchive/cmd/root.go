package cmd

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/perpetuallyhorni/ljarchive/pkg/client"
	"github.com/perpetuallyhorni/ljarchive/pkg/storage/sqlite"
	"github.com/perpetuallyhorni/ljarchive/tools/ljarchive/internal/cli"
	cliconfig "github.com/perpetuallyhorni/ljarchive/tools/ljarchive/internal/config"
	"github.com/perpetuallyhorni/ljarchive/tools/ljarchive/internal/update"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	// cfg stores the application configuration.
	cfg *cliconfig.Config
	// appClient archives the journals.
	appClient *client.Client
	// console is the CLI console for output.
	console *cli.Console
	// fileLogger writes the log file.
	fileLogger *log.Logger
	// database keeps the run history.
	database *sqlite.DB
	// flagConfigPath is the path to the config file.
	flagConfigPath string
	// flagQuiet enables or disables quiet mode.
	flagQuiet bool
	// version is set at build time.
	version string
)

// SetVersion sets the version of the application.
func SetVersion(v string) {
	version = v
	if rootCmd != nil {
		rootCmd.Version = v
	}
}

// setupLevel says how much a command needs before it runs.
type setupLevel int

const (
	setupNone setupLevel = iota
	setupDatabase
	setupFull
)

// commandSetup returns the setup a command needs; subcommands inherit from their parents.
func commandSetup(cmd *cobra.Command) setupLevel {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "completion", "help", "edit", "update", "passwd":
			return setupNone
		case "history":
			return setupDatabase
		}
	}
	return setupFull
}

// isSyncCommand reports whether cmd archives journals: the root command or its sync alias.
func isSyncCommand(cmd *cobra.Command) bool {
	return cmd.Parent() == nil || cmd.Name() == "sync"
}

var rootCmd = &cobra.Command{
	Use:   "ljarchive [section[/journal]...]",
	Short: "Incremental archiver for LiveJournal-style journals.",
	Long: `Incremental archiver for LiveJournal-style journals.

Each run downloads the posts changed since the previous run and merges new comments
into the archived posts. Run 'ljarchive' to archive every configured journal, or name
sections and journals to archive only those.
For example:
  ljarchive
  ljarchive livejournal
  ljarchive livejournal/some_user
  ljarchive history -n 5`,
	Args: cobra.ArbitraryArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := commandSetup(cmd)
		if level == setupNone {
			return nil
		}

		var err error
		database, err = sqlite.New(cfg.DatabasePath)
		if err != nil {
			return errors.Wrap(err, "error initializing database")
		}
		if level == setupDatabase {
			return nil
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		journals, err := cfg.Journals()
		if err != nil {
			return err
		}
		cleanLogs, _ := cmd.Flags().GetBool("clean-logs")
		fileLogger, err = setupFileLogger(cleanLogs, journalNames(journals), cfg)
		if err != nil {
			return errors.Wrap(err, "failed to set up file logger")
		}
		if val, _ := cmd.Flags().GetBool("debug"); val {
			fileLogger.SetOutput(io.MultiWriter(fileLogger.Writer(), os.Stderr))
		}

		appClient, err = client.New(&cfg.Config, database, fileLogger)
		if err != nil {
			return errors.Wrap(err, "error creating client")
		}

		if cfg.CheckForUpdates && isSyncCommand(cmd) {
			latest, err := update.New().CheckForUpdate(context.Background(), version)
			if err != nil {
				console.Warn("Update check failed: %v", err)
			} else if latest != "" {
				console.Warn("A new version of ljarchive is available: %s. Run 'ljarchive update' to upgrade.", latest)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if database != nil {
			return database.Close()
		}
		return nil
	},
	RunE:          runSync,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	console = cli.New(false)

	cobra.OnInitialize(func() {
		if val, err := rootCmd.Flags().GetBool("quiet"); err == nil && val {
			flagQuiet = true
			console = cli.New(true)
		}
		if val, err := rootCmd.Flags().GetString("config"); err == nil {
			flagConfigPath = val
		}

		var err error
		cfg, err = cliconfig.Load(flagConfigPath)
		if err != nil {
			console.Error("Error loading config: %v", err)
			os.Exit(1)
		}
		if err := applyFlagOverrides(rootCmd, cfg); err != nil {
			console.Error("Bad flag: %v", err)
			os.Exit(1)
		}
	})

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Quiet mode, no console output except for errors")
	rootCmd.PersistentFlags().Bool("debug", false, "Log debug info to stderr and log file")
	rootCmd.PersistentFlags().Bool("clean-logs", false, "Redact sensitive info (journals, sessions, paths) from log files")

	rootCmd.PersistentFlags().StringP("dir", "d", "", "Root folder of the archives (overrides config)")
	rootCmd.PersistentFlags().String("delay", "", `Pause between requests, e.g. "3s" (overrides config)`)
	rootCmd.PersistentFlags().String("bind", "", "Outbound IP addresses or interfaces, comma-separated (overrides config)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(passwdCmd)
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}
