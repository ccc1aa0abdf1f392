// Package identity keeps the cache of comment poster identities of a journal.
package identity

import (
	"context"
	"log"
	"strings"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/pkg/errors"
)

// ProfileFetcher returns the title of a user's profile page.
type ProfileFetcher interface {
	ProfileTitle(ctx context.Context, userID string) (string, error)
}

// Options describe the server the identities belong to.
type Options struct {
	Server string // Server is the base URL, used for external profile links.
	Schema string // Schema is the URL scheme of journal addresses.
	Netloc string // Netloc is the host journal addresses are built on.
}

// Resolver maps poster ids to display names and URLs.
type Resolver struct {
	store    *state.Store
	profiles ProfileFetcher
	opts     Options
	logger   *log.Logger
	users    *state.UserMap
}

// New creates a Resolver backed by the journal's cached user map.
func New(store *state.Store, profiles ProfileFetcher, opts Options, logger *log.Logger) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if profiles == nil {
		return nil, errors.New("profile fetcher cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Resolver{store: store, profiles: profiles, opts: opts, logger: logger}, nil
}

// Merge reconciles the cache with the live user map: entries missing from live are pruned,
// new entries are added, and new external identities get a display name from their profile
// page. A failed profile lookup is logged and the entry is cached without a name; a cancelled
// context stops the merge without writing anything. It reports whether the cache file was written.
func (r *Resolver) Merge(ctx context.Context, live []state.UserMapEntry) (bool, error) {
	cached := r.store.LoadUserMap()
	changed := false

	liveIDs := make(map[string]bool, len(live))
	for _, u := range live {
		liveIDs[u.ID] = true
	}
	kept := cached.Users[:0]
	for _, u := range cached.Users {
		if liveIDs[u.ID] {
			kept = append(kept, u)
			continue
		}
		changed = true
	}
	cached.Users = kept

	for _, u := range live {
		if _, ok := cached.Find(u.ID); ok {
			continue
		}
		entry := state.UserMapEntry{ID: u.ID, User: u.User}
		if IsExternal(u.User) {
			name, err := r.lookupRealName(ctx, u)
			if err != nil {
				return false, err
			}
			entry.RealName = name
		}
		cached.Put(entry)
		changed = true
	}

	r.users = cached
	if !changed {
		return false, nil
	}
	if _, err := r.store.SaveUserMap(cached); err != nil {
		return false, errors.Wrap(err, "failed to save user map")
	}
	return true, nil
}

// lookupRealName returns "" when the profile cannot be read and an error only when ctx is done.
func (r *Resolver) lookupRealName(ctx context.Context, u state.UserMapEntry) (string, error) {
	title, err := r.profiles.ProfileTitle(ctx, u.ID)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", errors.Wrapf(ctxErr, "profile lookup of %s interrupted", u.User)
	}
	if err != nil {
		r.logger.Printf("couldn't get profile page of external user %s: %v", u.User, err)
		return "", nil
	}
	return DisplayName(title), nil
}

// Poster returns the display name and URL of a poster id. It reports false for unknown ids.
func (r *Resolver) Poster(id string) (name, url string, ok bool) {
	if id == "" {
		return "", "", false
	}
	if r.users == nil {
		r.users = r.store.LoadUserMap()
	}
	u, ok := r.users.Find(id)
	if !ok {
		return "", "", false
	}
	name = u.User
	if u.RealName != "" {
		name = u.RealName
	}
	if IsExternal(u.User) {
		return name, ljarchive.ProfileURL(r.opts.Server, u.ID), true
	}
	return name, ljarchive.AuthorURL(r.opts.Schema, r.opts.Netloc, u.User), true
}

// IsExternal reports whether a login name belongs to a federated identity.
func IsExternal(user string) bool {
	return strings.HasPrefix(user, ljarchive.ExternalUserPrefix)
}

// DisplayName cuts a profile page title at its last '-' and trims the rest.
func DisplayName(title string) string {
	if i := strings.LastIndex(title, "-"); i >= 0 {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}
