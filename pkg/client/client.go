// Package client archives configured journals: posts first, then comments, one journal at a time.
package client

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/perpetuallyhorni/ljarchive/internal/fs"
	"github.com/perpetuallyhorni/ljarchive/pkg/comments"
	"github.com/perpetuallyhorni/ljarchive/pkg/config"
	"github.com/perpetuallyhorni/ljarchive/pkg/identity"
	"github.com/perpetuallyhorni/ljarchive/pkg/images"
	"github.com/perpetuallyhorni/ljarchive/pkg/network"
	"github.com/perpetuallyhorni/ljarchive/pkg/posts"
	"github.com/perpetuallyhorni/ljarchive/pkg/ratelimiter"
	"github.com/perpetuallyhorni/ljarchive/pkg/scanner"
	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/perpetuallyhorni/ljarchive/pkg/storage"
	"github.com/pkg/errors"
)

// Client is the main entry point for archiving journals.
type Client struct {
	cfg     *config.Config
	db      storage.Storer
	logger  *log.Logger
	http    *http.Client
	limiter *ratelimiter.RateLimiter
}

// New creates a new Client. All journals share one HTTP client and one request delay.
func New(cfg *config.Config, db storage.Storer, logger *log.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	httpClient, err := network.NewClient(network.Options{Timeout: cfg.RequestTimeout, BindAddresses: cfg.BindAddress})
	if err != nil {
		return nil, errors.Wrap(err, "failed to set up http client")
	}
	return &Client{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		http:    httpClient,
		limiter: ratelimiter.New(cfg.RequestDelay),
	}, nil
}

// ProgressCallback defines the function signature for progress reporting.
type ProgressCallback func(current, total int, message string)

// noOpProgress is a default empty progress callback.
func noOpProgress(current, total int, message string) {}

// journalLogger prefixes every line with the journal it concerns.
func (c *Client) journalLogger(j config.Journal) *log.Logger {
	return log.New(c.logger.Writer(), fmt.Sprintf("%s[%s/%s] ", c.logger.Prefix(), j.Section, j.User), c.logger.Flags())
}

// Conn returns a connection to the server of a journal.
func (c *Client) Conn(j config.Journal) (*ljarchive.Conn, error) {
	return c.conn(j, c.journalLogger(j))
}

func (c *Client) conn(j config.Journal, logger *log.Logger) (*ljarchive.Conn, error) {
	if j.PasswordHash == "" {
		return nil, errors.Errorf("no password for %s on %s", j.User, j.Section)
	}
	return ljarchive.New(
		ljarchive.Credentials{Server: j.Server, User: j.User, PasswordHash: j.PasswordHash},
		ljarchive.Options{
			HTTPClient:   c.http,
			Limiter:      c.limiter,
			Logger:       logger,
			UserAgent:    c.cfg.UserAgent,
			Retries:      c.cfg.Retries,
			MinFreeSpace: c.cfg.MinFreeSpaceMB * fs.MiB,
		},
	)
}

// ArchiveJournal brings the archive of one journal up to date and records the run.
func (c *Client) ArchiveJournal(ctx context.Context, j config.Journal, progressCb ProgressCallback) (storage.RunRecord, error) {
	if progressCb == nil {
		progressCb = noOpProgress
	}
	logger := c.journalLogger(j)
	run := storage.RunRecord{Section: j.Section, Journal: j.User, Started: time.Now()}

	err := c.archive(ctx, j, logger, progressCb, &run)
	run.Finished = time.Now()
	if err != nil {
		run.Error = err.Error()
		logger.Printf("archive run failed: %+v", err)
	}
	// the run is recorded even when the context was cancelled
	if _, dbErr := c.db.RecordRun(run); dbErr != nil {
		logger.Printf("failed to record run: %v", dbErr)
		if err == nil {
			err = errors.Wrap(dbErr, "failed to record run")
		}
	}
	return run, err
}

func (c *Client) archive(ctx context.Context, j config.Journal, logger *log.Logger, progressCb ProgressCallback, run *storage.RunRecord) error {
	conn, err := c.conn(j, logger)
	if err != nil {
		return err
	}
	store := state.New(j.Dir(c.cfg.OutputPath), logger)

	scan, err := scanner.New(conn, store.ImagesDir(), logger)
	if err != nil {
		return err
	}
	imageManager, err := images.New(store, scan, logger)
	if err != nil {
		return err
	}

	stylesheet := ""
	if j.ApplyXSLT {
		stylesheet = c.cfg.XSLTFile
	}

	driver, err := posts.New(store, conn, imageManager, posts.Options{
		Section:       j.Section,
		Journal:       j.User,
		Schema:        j.ServerSchema,
		Netloc:        j.ServerNetloc,
		ArchiveImages: j.ArchiveImages,
		ExcludeEvents: j.ExcludeEvents,
		ExcludeProps:  j.ExcludeProps,
		Stylesheet:    stylesheet,
		OnPost: func(done, total int, item ljarchive.SyncItem) {
			progressCb(done, total, fmt.Sprintf("post %d of %d", done+1, total))
		},
	}, logger)
	if err != nil {
		return err
	}
	progressCb(0, 0, "getting post list")
	postRes, err := driver.Run(ctx)
	run.PostsWritten = postRes.Written
	run.PostsDeleted = postRes.Deleted
	if err != nil {
		return errors.Wrap(err, "post sync failed")
	}
	logger.Printf("%d post(s) written, %d deleted, cursor at %s", postRes.Written, postRes.Deleted, postRes.Cursor.Format(ljarchive.DateFormat))

	if !j.ArchiveComments {
		return nil
	}
	resolver, err := identity.New(store, conn, identity.Options{
		Server: j.Server,
		Schema: j.ServerSchema,
		Netloc: j.ServerNetloc,
	}, logger)
	if err != nil {
		return err
	}
	engine, err := comments.New(store, conn, resolver, comments.Options{
		ExportPage: j.ExportCommentsPage,
		Stylesheet: stylesheet,
	}, logger)
	if err != nil {
		return err
	}
	progressCb(0, 0, "getting comments")
	commentRes, err := engine.Run(ctx)
	run.CommentsAdded = commentRes.Added
	run.CommentsUpdated = commentRes.Updated
	run.CommentsRemoved = commentRes.Removed
	if err != nil {
		return errors.Wrap(err, "comment merge failed")
	}
	logger.Printf("%d comment(s) added, %d updated, %d left for the next run, %d removed from metadata",
		commentRes.Added, commentRes.Updated, commentRes.Skipped, commentRes.Removed)
	return nil
}

// JournalDone is called after each journal of ArchiveAll.
type JournalDone func(j config.Journal, run storage.RunRecord, err error)

// ArchiveAll archives the journals in order. A failed journal does not stop the others; a
// cancelled context or a full disk does. start, when set, supplies the progress callback of
// each journal. It returns the number of journals that failed or did not run.
func (c *Client) ArchiveAll(ctx context.Context, journals []config.Journal, start func(config.Journal) ProgressCallback, done JournalDone) int {
	if done == nil {
		done = func(config.Journal, storage.RunRecord, error) {}
	}
	failed := 0
	for i, j := range journals {
		if ctx.Err() != nil {
			c.logger.Printf("stopping before %s/%s: %v", j.Section, j.User, ctx.Err())
			return failed + len(journals) - i
		}
		var progressCb ProgressCallback
		if start != nil {
			progressCb = start(j)
		}
		run, err := c.ArchiveJournal(ctx, j, progressCb)
		done(j, run, err)
		if err == nil {
			continue
		}
		failed++
		if errors.Is(err, ljarchive.ErrDiskSpace) {
			c.logger.Printf("halting after %s/%s: %v", j.Section, j.User, err)
			return failed + len(journals) - i - 1
		}
	}
	return failed
}
