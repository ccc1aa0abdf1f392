package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/perpetuallyhorni/ljarchive/pkg/config"
	"github.com/perpetuallyhorni/ljarchive/pkg/logging"
	cliconfig "github.com/perpetuallyhorni/ljarchive/tools/ljarchive/internal/config"
	"github.com/perpetuallyhorni/ljarchive/tools/ljarchive/internal/password"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// applyFlagOverrides applies command-line flag overrides to the configuration.
func applyFlagOverrides(cmd *cobra.Command, cfg *cliconfig.Config) error {
	if cmd.Flag("dir").Changed {
		cfg.OutputPath, _ = cmd.Flags().GetString("dir")
	}
	if cmd.Flag("bind").Changed {
		cfg.BindAddress, _ = cmd.Flags().GetString("bind")
	}
	if cmd.Flag("delay").Changed {
		raw, _ := cmd.Flags().GetString("delay")
		d, err := time.ParseDuration(raw)
		if err != nil {
			return errors.Wrap(err, "--delay")
		}
		if d < 0 {
			return errors.New("--delay cannot be negative")
		}
		cfg.RequestDelay = d
	}
	return nil
}

// selectJournals returns the journals named by args: "section" selects the users of a
// section that are not ignored, "section/journal" selects one journal even when ignored.
// Without args every journal that is not ignored is selected.
func selectJournals(cfg *config.Config, args []string) ([]config.Journal, error) {
	if len(args) == 0 {
		return cfg.Journals()
	}
	var out []config.Journal
	seen := make(map[string]bool)
	add := func(j config.Journal) {
		if label := journalLabel(j); !seen[label] {
			seen[label] = true
			out = append(out, j)
		}
	}
	for _, arg := range args {
		section, user, hasUser := strings.Cut(strings.TrimSpace(arg), "/")
		if hasUser {
			j, ok := cfg.Journal(section, user)
			if !ok {
				return nil, errors.Errorf("journal %q is not configured", arg)
			}
			add(j)
			continue
		}
		found := false
		for _, s := range cfg.Sections {
			if s.Name != section {
				continue
			}
			found = true
			for _, u := range s.Users {
				if u.Ignore {
					continue
				}
				if j, ok := cfg.Journal(s.Name, u.Name); ok {
					add(j)
				}
			}
		}
		if !found {
			return nil, errors.Errorf("section %q is not configured", arg)
		}
	}
	return out, nil
}

// resolvePasswords asks for the password of every journal without a password hash.
func resolvePasswords(journals []config.Journal, in *os.File) error {
	for i := range journals {
		if journals[i].PasswordHash != "" {
			continue
		}
		pw, err := password.Prompt(os.Stderr, in, fmt.Sprintf("Password for %s: ", journalLabel(journals[i])))
		if err != nil {
			return errors.Wrapf(err, "no password for %s", journalLabel(journals[i]))
		}
		journals[i].PasswordHash = password.Hash(pw)
	}
	return nil
}

func journalLabel(j config.Journal) string {
	return j.Section + "/" + j.User
}

func journalNames(journals []config.Journal) []string {
	names := make([]string, 0, len(journals))
	for _, j := range journals {
		names = append(names, j.User)
	}
	return names
}

// setupFileLogger opens the log file under the xdg state folder.
func setupFileLogger(clean bool, journals []string, cfg *cliconfig.Config) (*log.Logger, error) {
	logPath, err := xdg.StateFile(filepath.Join(cliconfig.AppName, "app.log"))
	if err != nil {
		return nil, errors.Wrap(err, "could not get log file path")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0750); err != nil {
		return nil, errors.Wrap(err, "could not create log directory")
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640) // #nosec G304 G302
	if err != nil {
		return nil, errors.Wrap(err, "could not open log file")
	}

	var writer io.Writer = f
	if clean {
		writer = logging.NewRedactingWriter(f, cfg.OutputPath, journals)
	}
	return log.New(writer, "", log.LstdFlags), nil
}
