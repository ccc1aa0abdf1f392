package images

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/perpetuallyhorni/ljarchive/pkg/scanner"
	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScraper reports every image named in images, downloading the ones the cache misses.
type fakeScraper struct {
	images []scanner.Image
}

func (f *fakeScraper) ScrapeImages(_ context.Context, markup string, cache scanner.Lookup) (*scanner.Result, error) {
	res := &scanner.Result{Markup: markup + "!"}
	for _, img := range f.images {
		if cached, ok := cache(img.Remote); ok {
			cached.LinkedRemote = img.LinkedRemote
			cached.LinkedLocal = img.LinkedLocal
			res.Existing = append(res.Existing, cached)
			continue
		}
		res.Downloaded = append(res.Downloaded, img)
	}
	return res, nil
}

func setup(t *testing.T, files ...string) (*Manager, *fakeScraper, *state.Store) {
	t.Helper()
	store := state.New(t.TempDir(), nil)
	require.NoError(t, os.MkdirAll(store.ImagesDir(), 0o750))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(store.ImagesDir(), f), []byte("img"), 0o640))
	}
	scraper := &fakeScraper{}
	m, err := New(store, scraper, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return m, scraper, store
}

func exists(store *state.Store, name string) bool {
	_, err := os.Stat(filepath.Join(store.ImagesDir(), name))
	return err == nil
}

func postIDs(e *state.ImageEntry) []int {
	var out []int
	for _, p := range e.Posts {
		out = append(out, p.ServerID)
	}
	return out
}

func TestReferenceCountAcrossPosts(t *testing.T) {
	m, scraper, store := setup(t, "u.png")
	scraper.images = []scanner.Image{{Remote: "http://x/u.png", Local: "u.png"}}

	for _, id := range []int{1, 2, 3} {
		markup, err := m.Process(context.Background(), "<img>", id)
		require.NoError(t, err)
		assert.Equal(t, "<img>!", markup)
	}
	entry := store.LoadImageMap().Find("http://x/u.png")
	require.NotNil(t, entry)
	assert.Equal(t, []int{1, 2, 3}, postIDs(entry))

	scraper.images = nil
	for _, id := range []int{1, 2} {
		_, err := m.Process(context.Background(), "text", id)
		require.NoError(t, err)
		assert.True(t, exists(store, "u.png"))
	}
	_, err := m.Process(context.Background(), "text", 3)
	require.NoError(t, err)
	assert.Nil(t, store.LoadImageMap().Find("http://x/u.png"))
	assert.False(t, exists(store, "u.png"))
}

func TestEditRemovesOnePostReference(t *testing.T) {
	m, scraper, store := setup(t, "u.png")
	scraper.images = []scanner.Image{{Remote: "http://x/u.png", Local: "u.png"}}
	for _, id := range []int{123, 124} {
		_, err := m.Process(context.Background(), "<img>", id)
		require.NoError(t, err)
	}

	scraper.images = nil
	_, err := m.Process(context.Background(), "edited", 123)
	require.NoError(t, err)

	entry := store.LoadImageMap().Find("http://x/u.png")
	require.NotNil(t, entry)
	assert.Equal(t, []int{124}, postIDs(entry))
	assert.True(t, exists(store, "u.png"))
}

func TestSteadyStateDoesNotWrite(t *testing.T) {
	m, scraper, store := setup(t)
	scraper.images = []scanner.Image{{Remote: "http://x/u.png", Local: "u.png"}}
	_, err := m.Process(context.Background(), "<img>", 1)
	require.NoError(t, err)

	path := filepath.Join(store.Dir(), state.CacheFolder, "cachedimagepaths.xml")
	before, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(path, before.ModTime().Add(-time.Hour), before.ModTime().Add(-time.Hour)))
	before, err = os.Stat(path)
	require.NoError(t, err)

	_, err = m.Process(context.Background(), "<img>", 1)
	require.NoError(t, err)
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestLinkedVariantRemovedDeletesOnlyLinkedFile(t *testing.T) {
	m, scraper, store := setup(t, "s.png", "b.png")
	scraper.images = []scanner.Image{{Remote: "http://x/s.png", Local: "s.png", LinkedRemote: "http://x/b.png", LinkedLocal: "b.png"}}
	_, err := m.Process(context.Background(), "<a><img></a>", 1)
	require.NoError(t, err)

	scraper.images = []scanner.Image{{Remote: "http://x/s.png", Local: "s.png"}}
	_, err = m.Process(context.Background(), "<img>", 1)
	require.NoError(t, err)

	entry := store.LoadImageMap().Find("http://x/s.png")
	require.NotNil(t, entry)
	assert.Empty(t, entry.LinkedRemote)
	assert.True(t, exists(store, "s.png"))
	assert.False(t, exists(store, "b.png"))
}

func TestReleasePost(t *testing.T) {
	m, scraper, store := setup(t, "a.png", "a-big.png", "b.png")
	scraper.images = []scanner.Image{
		{Remote: "http://x/a.png", Local: "a.png", LinkedRemote: "http://x/a-big.png", LinkedLocal: "a-big.png"},
		{Remote: "http://x/b.png", Local: "b.png"},
	}
	_, err := m.Process(context.Background(), "m", 1)
	require.NoError(t, err)
	scraper.images = scraper.images[1:]
	_, err = m.Process(context.Background(), "m", 2)
	require.NoError(t, err)

	changed, err := m.ReleasePost(1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, exists(store, "a.png"))
	assert.False(t, exists(store, "a-big.png"))
	assert.True(t, exists(store, "b.png"))
	assert.Equal(t, []int{2}, postIDs(store.LoadImageMap().Find("http://x/b.png")))

	changed, err = m.ReleasePost(1)
	require.NoError(t, err)
	assert.False(t, changed)
}
