// Package images reference-counts the downloaded images of a journal across its posts.
package images

import (
	"context"
	"log"

	"github.com/perpetuallyhorni/ljarchive/pkg/scanner"
	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/pkg/errors"
)

// Scraper finds and downloads the images of markup.
type Scraper interface {
	ScrapeImages(ctx context.Context, markup string, cache scanner.Lookup) (*scanner.Result, error)
}

// Manager keeps the image map of one journal in step with the posts that embed the images.
type Manager struct {
	store   *state.Store
	scraper Scraper
	logger  *log.Logger
	images  *state.ImageMap
}

// New creates a Manager.
func New(store *state.Store, scraper Scraper, logger *log.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if scraper == nil {
		return nil, errors.New("scraper cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Manager{store: store, scraper: scraper, logger: logger}, nil
}

func (m *Manager) imageMap() *state.ImageMap {
	if m.images == nil {
		m.images = m.store.LoadImageMap()
	}
	return m.images
}

func (m *Manager) lookup(remote string) (scanner.Image, bool) {
	e := m.imageMap().Find(remote)
	if e == nil {
		return scanner.Image{}, false
	}
	return scanner.Image{Remote: e.Remote, Local: e.Local, LinkedRemote: e.LinkedRemote, LinkedLocal: e.LinkedLocal}, true
}

// Process scans one piece of markup of a post, records the images it embeds against the post,
// releases the images the post no longer embeds and returns the rewritten markup.
func (m *Manager) Process(ctx context.Context, markup string, postID int) (string, error) {
	res, err := m.scraper.ScrapeImages(ctx, markup, m.lookup)
	if err != nil {
		return "", err
	}
	images := m.imageMap()
	changed := false
	var toDelete []string

	for _, img := range res.Downloaded {
		entry := images.Find(img.Remote)
		if entry == nil {
			entry = &state.ImageEntry{Remote: img.Remote}
			images.Add(entry)
		}
		entry.Local = img.Local
		entry.LinkedRemote = img.LinkedRemote
		entry.LinkedLocal = img.LinkedLocal
		entry.AddPost(postID)
		changed = true
	}

	for _, img := range res.Existing {
		entry := images.Find(img.Remote)
		if entry == nil {
			return "", errors.Errorf("image %s is missing from the image map", img.Remote)
		}
		if entry.LinkedRemote != img.LinkedRemote || entry.LinkedLocal != img.LinkedLocal {
			if entry.LinkedLocal != "" && entry.LinkedLocal != img.LinkedLocal {
				toDelete = append(toDelete, entry.LinkedLocal)
			}
			entry.LinkedRemote = img.LinkedRemote
			entry.LinkedLocal = img.LinkedLocal
			changed = true
		}
		if entry.AddPost(postID) {
			changed = true
		}
	}

	live := make(map[string]bool, len(res.Downloaded)+len(res.Existing))
	for _, img := range res.Downloaded {
		live[img.Remote] = true
	}
	for _, img := range res.Existing {
		live[img.Remote] = true
	}
	for _, entry := range images.ReferencedBy(postID) {
		if live[entry.Remote] {
			continue
		}
		toDelete = append(toDelete, m.release(entry, postID)...)
		changed = true
	}

	if changed {
		if err := m.save(toDelete); err != nil {
			return "", err
		}
	}
	return res.Markup, nil
}

// ReleasePost drops every reference of a deleted post and deletes the images nobody else uses.
// It reports whether the image map changed.
func (m *Manager) ReleasePost(postID int) (bool, error) {
	var toDelete []string
	entries := m.imageMap().ReferencedBy(postID)
	if len(entries) == 0 {
		return false, nil
	}
	for _, entry := range entries {
		toDelete = append(toDelete, m.release(entry, postID)...)
	}
	if err := m.save(toDelete); err != nil {
		return false, err
	}
	return true, nil
}

// release removes the post reference of an entry and returns the files to delete when the
// entry is no longer referenced.
func (m *Manager) release(entry *state.ImageEntry, postID int) []string {
	entry.RemovePost(postID)
	if len(entry.Posts) > 0 {
		return nil
	}
	m.imageMap().Remove(entry.Remote)
	var files []string
	for _, name := range []string{entry.Local, entry.LinkedLocal} {
		if name != "" {
			files = append(files, name)
		}
	}
	return files
}

// save writes the image map, then deletes the files it no longer lists.
func (m *Manager) save(toDelete []string) error {
	if _, err := m.store.SaveImageMap(m.imageMap()); err != nil {
		return errors.Wrap(err, "failed to save image map")
	}
	m.store.DeleteImages(toDelete...)
	return nil
}
