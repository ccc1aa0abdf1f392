package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/perpetuallyhorni/ljarchive/pkg/config"
	"github.com/pkg/errors"
)

const (
	// AppName names the xdg folders of the tool.
	AppName = "ljarchive"
	// EnvPrefix starts every environment override, e.g. LJARCHIVE_OUTPUT_PATH.
	EnvPrefix = "LJARCHIVE_"
)

// Config extends the core config with CLI-specific options.
type Config struct {
	config.Config `koanf:",squash"`
	DatabasePath  string `koanf:"database_path"`
	Editor        string `koanf:"editor"`
	// CheckForUpdates looks for a newer release before a sync.
	CheckForUpdates bool `koanf:"check_for_updates"`
	// Path is the file the configuration was read from.
	Path string `koanf:"-"`
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() (string, error) {
	p, err := xdg.ConfigFile(filepath.Join(AppName, "config.yaml"))
	if err != nil {
		return "", errors.Wrap(err, "failed to get default config path")
	}
	return p, nil
}

// Default returns the default CLI configuration.
func Default() (*Config, error) {
	dbPath, err := xdg.DataFile(filepath.Join(AppName, "history.db"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get default db path")
	}
	return &Config{
		Config:       *config.Default(),
		DatabasePath: dbPath,
	}, nil
}

// Load reads the configuration from path, or from the default path when empty, creating a
// commented default file when it is missing. Environment variables override the file.
func Load(path string) (*Config, error) {
	defCfg, err := Default()
	if err != nil {
		return nil, err
	}
	cfgPath := path
	if cfgPath == "" {
		if cfgPath, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := createDefaultConfig(cfgPath, defCfg); err != nil {
			return nil, errors.Wrap(err, "failed to create default config")
		}
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
		return nil, errors.Wrap(err, "failed to load config file")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load environment overrides")
	}
	cfg := defCfg
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	cfg.Path = cfgPath
	cfg.XSLTFile = resolveRelative(cfgPath, cfg.XSLTFile)
	return cfg, nil
}

// envKey maps LJARCHIVE_REQUEST_DELAY to request_delay.
func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

// resolveRelative makes a relative file name relative to the folder of the config file.
func resolveRelative(cfgPath, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(filepath.Dir(cfgPath), name)
}

// createDefaultConfig creates a default configuration file.
func createDefaultConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	content := fmt.Sprintf(`# ljarchive configuration file.
# Root folder of the archives; each journal goes to <output_path>/<section>/<user>.
output_path: "%s"
# Path to the SQLite database keeping the run history.
database_path: "%s"
# Pause between two requests to a server, e.g. "3s".
request_delay: "%s"
# Time limit of one request attempt.
request_timeout: "%s"
# Attempts per request before giving up.
retries: %d
user_agent: "%s"
# Stylesheet referenced by post files of users with apply_xslt; relative to this file.
xslt_file: "%s"
# Image downloads stop when less free space than this is left.
min_free_space_mb: %d
# Comma-separated local IPs or interface names for outgoing connections. Empty for the default.
bind_address: ""
# md5 hex of the password for users without their own password_hash. Also read from
# LJARCHIVE_PASSWORD_HASH. Users without any hash are asked for their password.
password_hash: ""
# Look for a newer release of ljarchive before each sync.
check_for_updates: false
# Editor for the 'edit' command. If empty, $EDITOR and then common editors are tried.
editor: ""
sections:
  - name: "livejournal"
    server: "https://www.livejournal.com"
    export_comments_page: "export_comments.bml"
    ignore: true
    event_properties_to_exclude: []
    prop_properties_to_exclude: []
    users:
      - name: "your_journal"
        ignore: false
        apply_xslt: true
        archive_comments: true
        archive_images: true
        password_hash: ""
`, cfg.OutputPath, cfg.DatabasePath, cfg.RequestDelay, cfg.RequestTimeout, cfg.Retries, cfg.UserAgent,
		cfg.XSLTFile, cfg.MinFreeSpaceMB)
	content = strings.ReplaceAll(content, "\\", "/")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return errors.Wrap(err, "failed to write default config file")
	}
	return nil
}
