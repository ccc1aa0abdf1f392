// Package posts synchronizes the posts of a journal into post documents.
package posts

import (
	"context"
	"log"
	"path/filepath"
	"time"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/pkg/errors"
)

// Transport is the part of the wire layer the driver needs.
type Transport interface {
	SyncItems(ctx context.Context, since time.Time, opts ...ljarchive.FeedOpt) ([]ljarchive.SyncItem, error)
	Event(ctx context.Context, itemID int) (*ljarchive.Response, error)
}

// Images tracks the images embedded in posts.
type Images interface {
	Process(ctx context.Context, markup string, postID int) (string, error)
	ReleasePost(postID int) (bool, error)
}

// Options configure a Driver.
type Options struct {
	Section       string   // Section is the short name of the server section, stored in each post.
	Journal       string   // Journal is the archived journal.
	Schema        string   // Schema is the URL scheme of the server.
	Netloc        string   // Netloc is the server host without "www.".
	ArchiveImages bool     // ArchiveImages enables downloading of embedded images.
	ExcludeEvents []string // ExcludeEvents extends DefaultEventExclusions.
	ExcludeProps  []string // ExcludeProps extends DefaultPropExclusions.
	Stylesheet    string   // Stylesheet is the path of the XSLT file to install and reference; empty for none.
	// OnPost is called before each post of the work list is fetched.
	OnPost func(done, total int, item ljarchive.SyncItem)
}

// Result reports what a run did.
type Result struct {
	Written int       // Written is the number of post documents written.
	Deleted int       // Deleted is the number of posts removed because the server no longer has them.
	Cursor  time.Time // Cursor is the sync cursor after the run.
}

// Driver runs the post synchronization of one journal.
type Driver struct {
	store     *state.Store
	transport Transport
	images    Images
	opts      Options
	logger    *log.Logger
	fields    *fieldBuilder
}

// New creates a Driver.
func New(store *state.Store, transport Transport, images Images, opts Options, logger *log.Logger) (*Driver, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if images == nil {
		return nil, errors.New("images cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if opts.Journal == "" {
		return nil, errors.New("journal cannot be empty")
	}
	if opts.OnPost == nil {
		opts.OnPost = func(done, total int, item ljarchive.SyncItem) {}
	}
	d := &Driver{store: store, transport: transport, images: images, opts: opts, logger: logger}
	var event func(context.Context, string, int) (string, error)
	if opts.ArchiveImages {
		event = images.Process
	}
	d.fields = newFieldBuilder(opts.ExcludeEvents, opts.ExcludeProps, event)
	return d, nil
}

// Run fetches every post changed since the sync cursor, in time order, stopping at the first
// failure. Deleted posts are removed whether or not fetching failed. The cursor moves past the
// posts that were written; a fetch failure is returned after that bookkeeping.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	res := Result{}
	all, err := d.transport.SyncItems(ctx, ljarchive.MinSyncDate)
	if err != nil {
		return res, errors.Wrap(err, "failed to get sync items")
	}
	cursor := d.store.LoadCursor()
	res.Cursor = cursor

	var work []ljarchive.SyncItem
	for _, item := range all {
		if item.Time.After(cursor) {
			work = append(work, item)
		}
	}
	d.logger.Printf("got %d post(s) to add or update since %s", len(work), cursor.Format(ljarchive.DateFormat))

	if d.opts.Stylesheet != "" {
		if err := d.store.InstallStylesheet(d.opts.Stylesheet); err != nil {
			return res, err
		}
	}

	postIDs := d.store.LoadPostIDs()
	var runErr error
	failed := -1
	for i, item := range work {
		d.opts.OnPost(i, len(work), item)
		d.logger.Printf("%d of %d: getting post %d modified on %s", i+1, len(work), item.ID, item.Time.Format(ljarchive.DateFormat))
		if err := d.syncPost(ctx, item, postIDs); err != nil {
			runErr = errors.Wrapf(err, "failed to sync post %d", item.ID)
			failed = i
			break
		}
		res.Written++
	}

	deleted, err := d.removeDeleted(all, postIDs)
	res.Deleted = deleted
	if err != nil {
		if runErr == nil {
			runErr = err
		} else {
			d.logger.Printf("failed to remove deleted posts: %v", err)
		}
	}
	if _, err := d.store.SavePostIDs(postIDs); err != nil {
		if runErr == nil {
			runErr = errors.Wrap(err, "failed to save post ids")
		} else {
			d.logger.Printf("failed to save post ids: %v", err)
		}
	}

	if next, ok := nextCursor(work, failed); ok {
		if _, err := d.store.SaveCursor(next); err != nil {
			if runErr == nil {
				runErr = errors.Wrap(err, "failed to save sync cursor")
			}
			return res, runErr
		}
		res.Cursor = next
	}
	return res, runErr
}

// nextCursor returns the time every post up to which is known written. With a failure at
// index failed, posts sharing the failed post's time are not covered.
func nextCursor(work []ljarchive.SyncItem, failed int) (time.Time, bool) {
	if len(work) == 0 {
		return time.Time{}, false
	}
	if failed < 0 {
		return work[len(work)-1].Time, true
	}
	for i := failed - 1; i >= 0; i-- {
		if work[i].Time.Before(work[failed].Time) {
			return work[i].Time, true
		}
	}
	return time.Time{}, false
}

// syncPost fetches one post and writes its document, keeping the comments already archived.
func (d *Driver) syncPost(ctx context.Context, item ljarchive.SyncItem, postIDs *state.PostIDMap) error {
	answer, err := d.transport.Event(ctx, item.ID)
	if err != nil {
		return err
	}
	itemID, publicID, err := PublicID(answer)
	if err != nil {
		return err
	}
	body, err := d.fields.build(ctx, answer, itemID)
	if err != nil {
		return err
	}
	doc := &state.PostDocument{Fields: append(d.header(), body...)}

	previous, hadPrevious := postIDs.Lookup(item.ID)
	if existing, ok := d.store.LoadPost(publicID); ok {
		doc.Comments = existing.Comments
	} else if hadPrevious && previous != publicID {
		if old, ok := d.store.LoadPost(previous); ok {
			doc.Comments = old.Comments
		}
	}

	stylesheet := ""
	if d.opts.Stylesheet != "" {
		stylesheet = filepath.Base(d.opts.Stylesheet)
	}
	if _, err := d.store.SavePost(publicID, doc, stylesheet); err != nil {
		return err
	}
	if hadPrevious && previous != publicID {
		d.logger.Printf("post %d moved from %d.xml to %d.xml", item.ID, previous, publicID)
		if err := d.store.DeletePost(previous); err != nil {
			return err
		}
	}
	postIDs.Put(item.ID, publicID)
	d.logger.Printf("post %d saved as %d.xml", item.ID, publicID)
	return nil
}

func (d *Driver) header() []state.Field {
	return []state.Field{
		state.NewField("generator", ljarchive.Generator),
		state.NewField("source", d.opts.Netloc),
		state.NewField("source_schema", d.opts.Schema),
		state.NewField("source_shortname", d.opts.Section),
		state.NewField("author", d.opts.Journal),
		state.NewField("author_url", ljarchive.AuthorURL(d.opts.Schema, d.opts.Netloc, d.opts.Journal)),
	}
}

// removeDeleted drops the posts the server no longer lists. An empty list is not trusted.
func (d *Driver) removeDeleted(all []ljarchive.SyncItem, postIDs *state.PostIDMap) (int, error) {
	if len(all) == 0 {
		return 0, nil
	}
	live := make(map[int]bool, len(all))
	for _, item := range all {
		live[item.ID] = true
	}
	var gone []state.PostRecord
	for _, rec := range postIDs.Posts {
		if !live[rec.ServerID] {
			gone = append(gone, rec)
		}
	}
	for i, rec := range gone {
		if err := d.store.DeletePost(rec.PublicID); err != nil {
			return i, err
		}
		if _, err := d.images.ReleasePost(rec.ServerID); err != nil {
			return i, err
		}
		postIDs.Remove(rec.ServerID)
	}
	d.logger.Printf("found %d deleted post(s)", len(gone))
	return len(gone), nil
}
