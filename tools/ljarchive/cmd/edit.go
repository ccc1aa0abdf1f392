package cmd

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// editCmd is the parent command for editing configuration files.
var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the configuration in your default editor.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var editConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Edit the configuration file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// the file exists: loading the config creates it
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
			return errors.Wrap(err, "could not create config directory")
		}
		editor, err := determineEditor(cmd)
		if err != nil {
			return err
		}
		console.Info("Opening config file with '%s': %s", editor, cfg.Path)
		return openInEditor(editor, cfg.Path)
	},
}

// determineEditor selects the editor from the flag, the config, $EDITOR and then fallbacks.
func determineEditor(cmd *cobra.Command) (string, error) {
	if editor, _ := cmd.Flags().GetString("editor"); editor != "" {
		return editor, nil
	}
	if cfg.Editor != "" {
		return cfg.Editor, nil
	}
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor, nil
	}
	if runtime.GOOS == "windows" {
		return "notepad", nil
	}
	for _, editor := range []string{"nano", "vi", "vim"} {
		if path, err := exec.LookPath(editor); err == nil {
			return path, nil
		}
	}
	return "", errors.New("no suitable editor found. please set the --editor flag, 'editor' in your config, or the $EDITOR environment variable")
}

func openInEditor(editor, filePath string) error {
	// #nosec G204 -- the editor comes from flags, config or env.
	cmd := exec.Command(editor, filePath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func init() {
	editCmd.PersistentFlags().String("editor", "", "Editor to use (e.g. 'code', 'vim', 'notepad'). Overrides config and $EDITOR.")
	editCmd.AddCommand(editConfigCmd)
}
