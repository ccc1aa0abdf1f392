package identity

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProfiles struct {
	titles map[string]string
	calls  []string
}

func (f *fakeProfiles) ProfileTitle(ctx context.Context, userID string) (string, error) {
	f.calls = append(f.calls, userID)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, ok := f.titles[userID]
	if !ok {
		return "", errors.New("404")
	}
	return title, nil
}

func newResolver(t *testing.T, profiles *fakeProfiles) (*Resolver, *state.Store) {
	t.Helper()
	store := state.New(t.TempDir(), nil)
	r, err := New(store, profiles, Options{
		Server: "https://www.example.com",
		Schema: "https",
		Netloc: "example.com",
	}, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return r, store
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"Jane Doe - Profile":        "Jane Doe",
		"a-b - Profile":             "a-b",
		"  NoSeparator  ":           "NoSeparator",
		"Ivan - Petrov - Profile  ": "Ivan - Petrov",
	}
	for title, want := range cases {
		assert.Equal(t, want, DisplayName(title), title)
	}
}

func TestMergeAddsPrunesAndResolves(t *testing.T) {
	profiles := &fakeProfiles{titles: map[string]string{"7": "Some Body - Profile"}}
	r, store := newResolver(t, profiles)

	seed := &state.UserMap{}
	seed.Put(state.UserMapEntry{ID: "1", User: "gone_user"})
	seed.Put(state.UserMapEntry{ID: "2", User: "stay_user"})
	_, err := store.SaveUserMap(seed)
	require.NoError(t, err)

	written, err := r.Merge(context.Background(), []state.UserMapEntry{
		{ID: "2", User: "stay_user"},
		{ID: "7", User: "ext_7"},
		{ID: "8", User: "ext_8"},
	})
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, []string{"7", "8"}, profiles.calls)

	cached := store.LoadUserMap()
	_, ok := cached.Find("1")
	assert.False(t, ok, "identity absent from live map is pruned")
	ext, ok := cached.Find("7")
	require.True(t, ok)
	assert.Equal(t, "Some Body", ext.RealName)
	failed, ok := cached.Find("8")
	require.True(t, ok, "failed profile lookup still caches the identity")
	assert.Empty(t, failed.RealName)

	name, url, ok := r.Poster("2")
	require.True(t, ok)
	assert.Equal(t, "stay_user", name)
	assert.Equal(t, "https://stay-user.example.com", url)

	name, url, ok = r.Poster("7")
	require.True(t, ok)
	assert.Equal(t, "Some Body", name)
	assert.Equal(t, "https://www.example.com/profile?userid=7&t=I", url)

	_, _, ok = r.Poster("")
	assert.False(t, ok)
}

func TestMergeIsIdempotent(t *testing.T) {
	profiles := &fakeProfiles{titles: map[string]string{"7": "X - Profile"}}
	r, _ := newResolver(t, profiles)
	live := []state.UserMapEntry{{ID: "2", User: "u"}, {ID: "7", User: "ext_7"}}

	written, err := r.Merge(context.Background(), live)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = r.Merge(context.Background(), live)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Len(t, profiles.calls, 1, "cached identities are not looked up again")
}

func TestNewRejectsNil(t *testing.T) {
	_, err := New(nil, &fakeProfiles{}, Options{}, log.New(io.Discard, "", 0))
	assert.Error(t, err)
	_, err = New(state.New(t.TempDir(), nil), nil, Options{}, log.New(io.Discard, "", 0))
	assert.Error(t, err)
}

func TestMergeCancelledLeavesExternalUsersUnresolved(t *testing.T) {
	profiles := &fakeProfiles{titles: map[string]string{"7": "Real Name - Profile"}}
	r, store := newResolver(t, profiles)
	live := []state.UserMapEntry{{ID: "5", User: "plain_user"}, {ID: "7", User: "ext_7"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	written, err := r.Merge(ctx, live)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, written)
	assert.Empty(t, store.LoadUserMap().Users)

	written, err = r.Merge(context.Background(), live)
	require.NoError(t, err)
	assert.True(t, written)
	entry, ok := store.LoadUserMap().Find("7")
	require.True(t, ok)
	assert.Equal(t, "Real Name", entry.RealName)
}
