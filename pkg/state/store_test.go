package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorDefaultsAndRoundTrip(t *testing.T) {
	s := New(t.TempDir(), nil)
	assert.True(t, s.LoadCursor().Equal(ljarchive.MinSyncDate))

	at := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	written, err := s.SaveCursor(at)
	require.NoError(t, err)
	assert.True(t, written)
	assert.True(t, s.LoadCursor().Equal(at))

	written, err = s.SaveCursor(at)
	require.NoError(t, err)
	assert.False(t, written, "same cursor must not be rewritten")
}

func TestCursorGarbageFallsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, CacheFolder), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFolder, cursorFile), []byte("yesterday"), 0o640))
	assert.True(t, New(dir, nil).LoadCursor().Equal(ljarchive.MinSyncDate))
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		m := &PostIDMap{}
		assert.False(t, LoadOrDefault(filepath.Join(dir, "nope.xml"), m))
	})
	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.xml")
		require.NoError(t, os.WriteFile(path, []byte("<posts><post"), 0o640))
		assert.False(t, LoadOrDefault(path, &PostIDMap{}))
	})
	t.Run("wrong root", func(t *testing.T) {
		path := filepath.Join(dir, "root.xml")
		require.NoError(t, os.WriteFile(path, []byte("<images/>"), 0o640))
		assert.False(t, LoadOrDefault(path, &PostIDMap{}))
	})
	t.Run("garbage store doc is empty", func(t *testing.T) {
		s := New(dir, nil)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, CacheFolder), 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFolder, postIDsFile), []byte("nonsense"), 0o640))
		assert.Empty(t, s.LoadPostIDs().Posts)
	})
}

func TestSaveIfChangedIsByteStable(t *testing.T) {
	s := New(t.TempDir(), nil)
	m := s.LoadPostIDs()
	assert.True(t, m.Put(10, 2561))
	assert.False(t, m.Put(10, 2561))

	written, err := s.SavePostIDs(m)
	require.NoError(t, err)
	assert.True(t, written)

	path := s.cachePath(postIDsFile)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	reloaded := s.LoadPostIDs()
	publicID, ok := reloaded.Lookup(10)
	require.True(t, ok)
	assert.Equal(t, 2561, publicID)

	written, err = s.SavePostIDs(reloaded)
	require.NoError(t, err)
	assert.False(t, written)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temporary files must not be left behind")
	}
}

func TestCommentPageKeepsIDsSorted(t *testing.T) {
	p := &CommentPage{}
	for _, id := range []int{18, 1, 2, 3} {
		assert.True(t, p.Put(CommentRecord{ID: id, State: "A"}))
	}
	ids := make([]int, 0, len(p.Comments))
	for _, c := range p.Comments {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int{1, 2, 3, 18}, ids)

	assert.False(t, p.Put(CommentRecord{ID: 2, State: "A"}))
	assert.True(t, p.Put(CommentRecord{ID: 2, State: "D"}))

	removed := p.Prune(2, 10, map[int]bool{3: true})
	assert.Equal(t, []int{2}, removed)
	_, ok := p.Find(2)
	assert.False(t, ok)
	_, ok = p.Find(18)
	assert.True(t, ok)
}

func TestCommentPageOmitsEmptyAttributes(t *testing.T) {
	s := New(t.TempDir(), nil)
	p := &CommentPage{}
	p.Put(CommentRecord{ID: 1001, State: "A"})
	_, err := s.SaveCommentPage(1, p)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.Dir(), CacheFolder, "cachedcommentsmetadata_1.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `<comment id="1001" state="A"></comment>`)
	assert.NotContains(t, string(data), "subjectbodyhash")
	assert.Equal(t, 1, CommentPageNumber(1001))
	assert.Equal(t, 0, CommentPageNumber(999))
}

func TestImageMapReferences(t *testing.T) {
	s := New(t.TempDir(), nil)
	m := s.LoadImageMap()
	e := &ImageEntry{Remote: "http://a/x.png", Local: "x (a).png"}
	assert.True(t, e.AddPost(123))
	assert.True(t, e.AddPost(124))
	assert.False(t, e.AddPost(124))
	m.Add(e)

	_, err := s.SaveImageMap(m)
	require.NoError(t, err)

	reloaded := s.LoadImageMap()
	got := reloaded.Find("http://a/x.png")
	require.NotNil(t, got)
	assert.Equal(t, []ImagePostRef{{ServerID: 123}, {ServerID: 124}}, got.Posts)
	assert.Len(t, reloaded.ReferencedBy(124), 1)
	assert.True(t, reloaded.Remove("http://a/x.png"))
	assert.Nil(t, reloaded.Find("http://a/x.png"))
}

func TestDeleteImages(t *testing.T) {
	s := New(t.TempDir(), nil)
	require.NoError(t, os.MkdirAll(s.ImagesDir(), 0o750))
	path := filepath.Join(s.ImagesDir(), "x (a).png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o640))

	s.DeleteImages("x (a).png", "missing.png", "")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
