// Package config holds the core archive configuration: where archives go, how the servers are
// contacted and which journals of which sections are archived.
package config

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// User is one journal of a section.
type User struct {
	Name            string `koanf:"name" validate:"required"`
	Ignore          bool   `koanf:"ignore"`
	ApplyXSLT       bool   `koanf:"apply_xslt"`
	ArchiveComments bool   `koanf:"archive_comments"`
	ArchiveImages   bool   `koanf:"archive_images"`
	PasswordHash    string `koanf:"password_hash" validate:"omitempty,len=32,hexadecimal"` // md5 hex of the password
}

// Section is one server.
type Section struct {
	Name                     string   `koanf:"name" validate:"required"`
	Server                   string   `koanf:"server" validate:"required,url"`
	ExportCommentsPage       string   `koanf:"export_comments_page" validate:"required"`
	Ignore                   bool     `koanf:"ignore"`
	EventPropertiesToExclude []string `koanf:"event_properties_to_exclude"`
	PropPropertiesToExclude  []string `koanf:"prop_properties_to_exclude"`
	Users                    []User   `koanf:"users" validate:"dive"`
}

// Config struct holds the core configuration.
type Config struct {
	// OutputPath is the root folder of the archives.
	OutputPath string `koanf:"output_path" validate:"required"`
	// RequestDelay is the pause between two remote calls.
	RequestDelay time.Duration `koanf:"request_delay" validate:"gte=0"`
	// RequestTimeout bounds one request attempt.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	Retries        int           `koanf:"retries" validate:"gte=1"`
	UserAgent      string        `koanf:"user_agent"`
	// XSLTFile is the stylesheet referenced by the posts of journals with apply_xslt.
	XSLTFile string `koanf:"xslt_file"`
	// MinFreeSpaceMB is the free space required before an image download.
	MinFreeSpaceMB uint64 `koanf:"min_free_space_mb"`
	// BindAddress lists local IPs or interfaces, comma-separated, for outgoing connections.
	BindAddress string `koanf:"bind_address"`
	// PasswordHash is used for users without their own.
	PasswordHash string    `koanf:"password_hash" validate:"omitempty,len=32,hexadecimal"`
	Sections     []Section `koanf:"sections" validate:"dive"`
}

// Journal is a configured journal with the fields derived from its section.
type Journal struct {
	Section            string
	Server             string
	ServerSchema       string // ServerSchema is the scheme of Server.
	ServerNetloc       string // ServerNetloc is the host of Server without a leading "www.".
	ExportCommentsPage string
	User               string
	PasswordHash       string
	ApplyXSLT          bool
	ArchiveComments    bool
	ArchiveImages      bool
	ExcludeEvents      []string
	ExcludeProps       []string
}

// Dir returns the archive folder of the journal: <output>/<section>/<user>.
func (j Journal) Dir(outputPath string) string {
	return filepath.Join(outputPath, j.Section, j.User)
}

// Default returns the default core configuration.
func Default() *Config {
	var defaultPath string
	if docs := xdg.UserDirs.Documents; docs != "" {
		defaultPath = filepath.Join(docs, "ljarchive")
	} else {
		defaultPath = "archive"
	}

	return &Config{
		OutputPath:     defaultPath,
		RequestDelay:   3 * time.Second,
		RequestTimeout: 30 * time.Second,
		Retries:        3,
		UserAgent:      "Archiver",
		XSLTFile:       "stylesheet.xsl",
		MinFreeSpaceMB: 50,
	}
}

// Validate checks the struct tags and the server URLs.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	seen := make(map[string]bool, len(c.Sections))
	for _, s := range c.Sections {
		if seen[s.Name] {
			return errors.Errorf("invalid configuration: section %q is defined twice", s.Name)
		}
		seen[s.Name] = true
		if _, _, err := ServerParts(s.Server); err != nil {
			return errors.Wrapf(err, "invalid configuration: section %q", s.Name)
		}
	}
	return nil
}

// ServerParts splits a server URL into its scheme and its host without a leading "www.".
func ServerParts(server string) (schema, netloc string, err error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", "", errors.Wrapf(err, "bad server url %q", server)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", errors.Errorf("server url %q needs a scheme and a host", server)
	}
	netloc = u.Host
	if strings.HasPrefix(strings.ToLower(netloc), "www.") {
		netloc = netloc[len("www."):]
	}
	return u.Scheme, netloc, nil
}

// Journals returns the journals of every section and user that is not ignored, in file order.
func (c *Config) Journals() ([]Journal, error) {
	var out []Journal
	for _, s := range c.Sections {
		if s.Ignore {
			continue
		}
		schema, netloc, err := ServerParts(s.Server)
		if err != nil {
			return nil, errors.Wrapf(err, "section %q", s.Name)
		}
		for _, u := range s.Users {
			if u.Ignore {
				continue
			}
			hash := u.PasswordHash
			if hash == "" {
				hash = c.PasswordHash
			}
			out = append(out, Journal{
				Section:            s.Name,
				Server:             s.Server,
				ServerSchema:       schema,
				ServerNetloc:       netloc,
				ExportCommentsPage: s.ExportCommentsPage,
				User:               u.Name,
				PasswordHash:       strings.ToLower(hash),
				ApplyXSLT:          u.ApplyXSLT,
				ArchiveComments:    u.ArchiveComments,
				ArchiveImages:      u.ArchiveImages,
				ExcludeEvents:      s.EventPropertiesToExclude,
				ExcludeProps:       s.PropPropertiesToExclude,
			})
		}
	}
	return out, nil
}

// Journal finds one configured journal, ignored or not.
func (c *Config) Journal(section, user string) (Journal, bool) {
	for _, s := range c.Sections {
		if s.Name != section {
			continue
		}
		for _, u := range s.Users {
			if u.Name != user {
				continue
			}
			single := *c
			sc := s
			sc.Ignore = false
			sc.Users = []User{u}
			sc.Users[0].Ignore = false
			single.Sections = []Section{sc}
			journals, err := single.Journals()
			if err != nil || len(journals) != 1 {
				return Journal{}, false
			}
			return journals[0], true
		}
	}
	return Journal{}, false
}
