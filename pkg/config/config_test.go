package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Config {
	cfg := Default()
	cfg.OutputPath = "/tmp/archive"
	cfg.PasswordHash = "5F4DCC3B5AA765D61D8327DEB882CF99"
	cfg.Sections = []Section{
		{
			Name:                     "lj",
			Server:                   "https://www.LiveJournal.com",
			ExportCommentsPage:       "export_comments.bml",
			EventPropertiesToExclude: []string{"security"},
			Users: []User{
				{Name: "alice", ArchiveComments: true},
				{Name: "bob", Ignore: true},
				{Name: "carol", PasswordHash: "0123456789abcdef0123456789abcdef"},
			},
		},
		{
			Name:               "dw",
			Server:             "https://dreamwidth.org",
			ExportCommentsPage: "export_comments",
			Ignore:             true,
			Users:              []User{{Name: "dave"}},
		},
	}
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.OutputPath)
	assert.Equal(t, 3*time.Second, cfg.RequestDelay)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, "Archiver", cfg.UserAgent)
	assert.NoError(t, cfg.Validate())
}

func TestJournals(t *testing.T) {
	journals, err := sample().Journals()
	require.NoError(t, err)
	require.Len(t, journals, 2)

	alice := journals[0]
	assert.Equal(t, "alice", alice.User)
	assert.Equal(t, "https", alice.ServerSchema)
	assert.Equal(t, "LiveJournal.com", alice.ServerNetloc)
	assert.Equal(t, "5f4dcc3b5aa765d61d8327deb882cf99", alice.PasswordHash)
	assert.True(t, alice.ArchiveComments)
	assert.Equal(t, []string{"security"}, alice.ExcludeEvents)
	assert.Equal(t, "/tmp/archive/lj/alice", alice.Dir("/tmp/archive"))

	assert.Equal(t, "0123456789abcdef0123456789abcdef", journals[1].PasswordHash)
}

func TestJournalLookupIgnoresIgnoreFlags(t *testing.T) {
	cfg := sample()
	j, ok := cfg.Journal("dw", "dave")
	require.True(t, ok)
	assert.Equal(t, "dreamwidth.org", j.ServerNetloc)

	_, ok = cfg.Journal("lj", "nobody")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing section name", func(c *Config) { c.Sections[0].Name = "" }},
		{"bad server", func(c *Config) { c.Sections[0].Server = "not a url" }},
		{"missing export page", func(c *Config) { c.Sections[0].ExportCommentsPage = "" }},
		{"missing user name", func(c *Config) { c.Sections[0].Users[0].Name = "" }},
		{"short hash", func(c *Config) { c.Sections[0].Users[0].PasswordHash = "abc" }},
		{"zero retries", func(c *Config) { c.Retries = 0 }},
		{"duplicate section", func(c *Config) { c.Sections[1].Name = "lj" }},
	}
	require.NoError(t, sample().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sample()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestServerParts(t *testing.T) {
	schema, netloc, err := ServerParts("http://WWW.example.org/")
	require.NoError(t, err)
	assert.Equal(t, "http", schema)
	assert.Equal(t, "example.org", netloc)

	_, _, err = ServerParts("example.org")
	assert.Error(t, err)
}
