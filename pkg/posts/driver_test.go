package posts

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	items  []ljarchive.SyncItem
	anum   map[int]int
	failOn map[int]error
	events []int
}

func (f *fakeTransport) SyncItems(_ context.Context, since time.Time, _ ...ljarchive.FeedOpt) ([]ljarchive.SyncItem, error) {
	if !since.Equal(ljarchive.MinSyncDate) {
		return nil, errors.New("enumeration must start at the first day")
	}
	return f.items, nil
}

func (f *fakeTransport) Event(_ context.Context, itemID int) (*ljarchive.Response, error) {
	f.events = append(f.events, itemID)
	if err, ok := f.failOn[itemID]; ok {
		return nil, err
	}
	anum := 1
	if a, ok := f.anum[itemID]; ok {
		anum = a
	}
	return ljarchive.NewResponse(
		"events_1_itemid", strconv.Itoa(itemID),
		"events_1_anum", strconv.Itoa(anum),
		"events_1_subject", "post "+strconv.Itoa(itemID),
		"events_1_event", "hello+world",
		"prop_1_name", "taglist",
		"prop_1_value", "a, b",
	), nil
}

type fakeImages struct {
	processed []int
	released  []int
}

func (f *fakeImages) Process(_ context.Context, markup string, postID int) (string, error) {
	f.processed = append(f.processed, postID)
	return markup + "!", nil
}

func (f *fakeImages) ReleasePost(postID int) (bool, error) {
	f.released = append(f.released, postID)
	return true, nil
}

var base = time.Date(2020, time.May, 1, 12, 0, 0, 0, time.UTC)

func items(ids ...int) []ljarchive.SyncItem {
	out := make([]ljarchive.SyncItem, 0, len(ids))
	for i, id := range ids {
		out = append(out, ljarchive.SyncItem{ID: id, Time: base.Add(time.Duration(i) * time.Minute)})
	}
	return out
}

func newDriver(t *testing.T, store *state.Store, tr *fakeTransport, img *fakeImages, archiveImages bool) *Driver {
	t.Helper()
	d, err := New(store, tr, img, Options{
		Section:       "lj",
		Journal:       "some_user",
		Schema:        "https",
		Netloc:        "livejournal.com",
		ArchiveImages: archiveImages,
	}, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return d
}

func publicOf(id int) int { return id*256 + 1 }

func postExists(store *state.Store, publicID int) bool {
	_, err := os.Stat(store.PostPath(publicID))
	return err == nil
}

func TestNewValidates(t *testing.T) {
	store := state.New(t.TempDir(), nil)
	logger := log.New(io.Discard, "", 0)
	_, err := New(store, &fakeTransport{}, nil, Options{Journal: "j"}, logger)
	assert.Error(t, err)
	_, err = New(store, &fakeTransport{}, &fakeImages{}, Options{}, logger)
	assert.Error(t, err)
}

func TestCursorStopsBeforeFailedPost(t *testing.T) {
	store := state.New(t.TempDir(), nil)
	tr := &fakeTransport{items: items(1, 2, 3, 4, 5), failOn: map[int]error{3: errors.New("boom")}}
	img := &fakeImages{}
	d := newDriver(t, store, tr, img, false)

	res, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, res.Written)
	assert.True(t, res.Cursor.Equal(base.Add(time.Minute)))
	assert.True(t, store.LoadCursor().Equal(base.Add(time.Minute)))
	assert.Equal(t, []int{1, 2, 3}, tr.events)
	assert.True(t, postExists(store, publicOf(1)))
	assert.True(t, postExists(store, publicOf(2)))
	assert.False(t, postExists(store, publicOf(3)))

	tr.failOn = nil
	tr.events = nil
	res, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Written)
	assert.Equal(t, []int{3, 4, 5}, tr.events)
	assert.True(t, store.LoadCursor().Equal(base.Add(4*time.Minute)))
}

func TestCursorWithTiedTimes(t *testing.T) {
	work := []ljarchive.SyncItem{
		{ID: 1, Time: base},
		{ID: 2, Time: base.Add(time.Minute)},
		{ID: 3, Time: base.Add(time.Minute)},
	}
	next, ok := nextCursor(work, 2)
	require.True(t, ok)
	assert.True(t, next.Equal(base))

	_, ok = nextCursor(work, 0)
	assert.False(t, ok)
	_, ok = nextCursor(nil, -1)
	assert.False(t, ok)
}

func TestSecondRunFetchesNothing(t *testing.T) {
	store := state.New(t.TempDir(), nil)
	tr := &fakeTransport{items: items(1, 2)}
	d := newDriver(t, store, tr, &fakeImages{}, false)

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	tr.events = nil
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Written)
	assert.Empty(t, tr.events)
	assert.Zero(t, res.Deleted)
}

func TestPostDocument(t *testing.T) {
	store := state.New(t.TempDir(), nil)
	img := &fakeImages{}
	d := newDriver(t, store, &fakeTransport{items: items(7)}, img, true)

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	doc, ok := store.LoadPost(publicOf(7))
	require.True(t, ok)

	var names []string
	for _, f := range doc.Fields {
		names = append(names, f.XMLName.Local)
	}
	assert.Equal(t, []string{
		"generator", "source", "source_schema", "source_shortname", "author", "author_url",
		"itemid", "anum", "subject", "event", "taglist",
	}, names)
	event, _ := doc.Field("event")
	assert.Equal(t, "hello world!", event.Text)
	author, _ := doc.Field("author_url")
	assert.Equal(t, "https://some-user.livejournal.com", author.Text)
	tags, _ := doc.Field("taglist")
	assert.Len(t, tags.Children, 2)
	assert.Equal(t, []int{7}, img.processed)

	ids := store.LoadPostIDs()
	publicID, ok := ids.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, publicOf(7), publicID)
}

func TestRewriteKeepsComments(t *testing.T) {
	store := state.New(t.TempDir(), nil)
	existing := &state.PostDocument{
		Fields:   []state.Field{state.NewField("subject", "old")},
		Comments: &state.CommentList{Comments: []*state.Comment{{ID: 5, PostID: 1, State: "A", Body: "first"}}},
	}
	_, err := store.SavePost(publicOf(1), existing, "")
	require.NoError(t, err)

	_, err = newDriver(t, store, &fakeTransport{items: items(1)}, &fakeImages{}, false).Run(context.Background())
	require.NoError(t, err)

	doc, ok := store.LoadPost(publicOf(1))
	require.True(t, ok)
	subject, _ := doc.Field("subject")
	assert.Equal(t, "post 1", subject.Text)
	require.NotNil(t, doc.Comments)
	require.Len(t, doc.Comments.Comments, 1)
	assert.Equal(t, "first", doc.Comments.Comments[0].Body)
}

func TestMovedPostCarriesComments(t *testing.T) {
	store := state.New(t.TempDir(), nil)
	oldPublic := 1*256 + 9
	ids := &state.PostIDMap{}
	ids.Put(1, oldPublic)
	_, err := store.SavePostIDs(ids)
	require.NoError(t, err)
	_, err = store.SavePost(oldPublic, &state.PostDocument{
		Comments: &state.CommentList{Comments: []*state.Comment{{ID: 5, PostID: 1, State: "A"}}},
	}, "")
	require.NoError(t, err)

	_, err = newDriver(t, store, &fakeTransport{items: items(1)}, &fakeImages{}, false).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, postExists(store, oldPublic))
	doc, ok := store.LoadPost(publicOf(1))
	require.True(t, ok)
	require.NotNil(t, doc.Comments)
	assert.Len(t, doc.Comments.Comments, 1)
}

func TestDeletedPostsAreRemoved(t *testing.T) {
	store := state.New(t.TempDir(), nil)
	tr := &fakeTransport{items: items(1, 2)}
	img := &fakeImages{}
	d := newDriver(t, store, tr, img, false)
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	tr.items = tr.items[:1]
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []int{2}, img.released)
	assert.False(t, postExists(store, publicOf(2)))
	assert.True(t, postExists(store, publicOf(1)))
	_, ok := store.LoadPostIDs().Lookup(2)
	assert.False(t, ok)
}

func TestEmptyListDeletesNothing(t *testing.T) {
	store := state.New(t.TempDir(), nil)
	tr := &fakeTransport{items: items(1)}
	img := &fakeImages{}
	d := newDriver(t, store, tr, img, false)
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	tr.items = nil
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.Empty(t, img.released)
	assert.True(t, postExists(store, publicOf(1)))
}

func TestStylesheetInstalledAndReferenced(t *testing.T) {
	store := state.New(t.TempDir(), nil)
	xsl := filepath.Join(t.TempDir(), "post.xsl")
	require.NoError(t, os.WriteFile(xsl, []byte("<xsl/>"), 0o640))

	d, err := New(store, &fakeTransport{items: items(1)}, &fakeImages{}, Options{
		Journal: "j", Schema: "https", Netloc: "example.com", Stylesheet: xsl,
	}, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(store.Dir(), "post.xsl"))
	assert.NoError(t, err)
	data, err := os.ReadFile(store.PostPath(publicOf(1)))
	require.NoError(t, err)
	assert.Contains(t, string(data), `href="post.xsl"`)
}
