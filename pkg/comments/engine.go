// Package comments merges a journal's comments into its archived post documents.
package comments

import (
	"context"
	"log"
	"math"
	"time"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/pkg/errors"
)

// Transport is the part of the wire layer the engine needs.
type Transport interface {
	SessionToken(ctx context.Context) (string, error)
	ExpireSession(ctx context.Context, token string) error
	ExportComments(ctx context.Context, token, exportPage string, kind ljarchive.ExportKind, startID int) ([]byte, error)
}

// Identities merges the live user map and resolves posters.
type Identities interface {
	Merge(ctx context.Context, live []state.UserMapEntry) (bool, error)
	Poster(id string) (name, url string, ok bool)
}

// Options configure an Engine.
type Options struct {
	ExportPage string // ExportPage is the export endpoint path relative to the server.
	Stylesheet string // Stylesheet is referenced from rewritten post documents; empty for none.
}

// Result counts what a run did.
type Result struct {
	Added   int // Added is the number of comments inserted into post documents.
	Updated int // Updated is the number of comments replaced in post documents.
	Skipped int // Skipped is the number of changed comments left for the next run.
	Removed int // Removed is the number of metadata records of comments gone from the server.
}

// Engine walks the comment export of one journal and merges it into post documents.
type Engine struct {
	store      *state.Store
	transport  Transport
	identities Identities
	opts       Options
	logger     *log.Logger
}

// New creates an Engine.
func New(store *state.Store, transport Transport, identities Identities, opts Options, logger *log.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if identities == nil {
		return nil, errors.New("identities cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if opts.ExportPage == "" {
		return nil, errors.New("export page cannot be empty")
	}
	return &Engine{store: store, transport: transport, identities: identities, opts: opts, logger: logger}, nil
}

// Run merges new and edited comments. The session it opens is expired on every exit path;
// a failed expiry is returned only when the run itself succeeded.
func (e *Engine) Run(ctx context.Context) (res Result, err error) {
	e.logger.Printf("getting session token for comments")
	token, err := e.transport.SessionToken(ctx)
	if err != nil {
		return res, errors.Wrap(err, "failed to get session token")
	}
	defer func() {
		expireErr := e.transport.ExpireSession(context.WithoutCancel(ctx), token)
		switch {
		case expireErr == nil:
			e.logger.Printf("session token expired")
		case err == nil:
			err = errors.Wrap(expireErr, "failed to expire session token")
		default:
			e.logger.Printf("failed to expire session token: %v", expireErr)
		}
	}()
	err = e.run(ctx, token, &res)
	return res, err
}

func (e *Engine) run(ctx context.Context, token string, res *Result) error {
	e.logger.Printf("getting comments metadata")
	raw, err := e.transport.ExportComments(ctx, token, e.opts.ExportPage, ljarchive.ExportMeta, 0)
	if err != nil {
		return errors.Wrap(err, "failed to get comments metadata")
	}
	meta, err := parseExport(raw)
	if err != nil {
		return err
	}
	if meta.MaxID == 0 {
		e.logger.Printf("journal has no comments")
		return nil
	}
	if _, err := e.identities.Merge(ctx, meta.Users); err != nil {
		return errors.Wrap(err, "failed to merge user map")
	}

	startID := math.MaxInt
	for _, c := range meta.Comments {
		startID = min(startID, c.ID)
	}
	if startID == math.MaxInt {
		startID = 0
	}
	e.logger.Printf("found %d comments, enumeration starts with %d and ends with %d", len(meta.Comments), startID, meta.MaxID)

	postIDs := e.store.LoadPostIDs()
	first := true
	for startID <= meta.MaxID {
		if err := ctx.Err(); err != nil {
			return err
		}
		maxOnPage, err := e.processPage(ctx, token, startID, first, meta.MaxID, postIDs, res)
		if err != nil {
			return err
		}
		if maxOnPage < startID {
			e.logger.Printf("comment page starting with %d made no progress, stopping", startID)
			break
		}
		startID = maxOnPage + 1
		first = false
	}
	return nil
}

// change is a comment that differs from its cached metadata.
type change struct {
	node   *state.Comment
	record state.CommentRecord
	isNew  bool
}

// processPage merges one page of comment bodies and returns the highest comment id on it,
// or startID-1 when the page is empty.
func (e *Engine) processPage(ctx context.Context, token string, startID int, first bool, maxID int, postIDs *state.PostIDMap, res *Result) (int, error) {
	e.logger.Printf("getting comment bodies starting with comment id %d", startID)
	raw, err := e.transport.ExportComments(ctx, token, e.opts.ExportPage, ljarchive.ExportBody, startID)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get comment bodies from %d", startID)
	}
	page, err := parseExport(raw)
	if err != nil {
		return 0, err
	}
	if len(page.Comments) == 0 {
		return startID - 1, nil
	}

	maxOnPage := 0
	live := make(map[int]bool, len(page.Comments))
	var nodes []*state.Comment
	for _, c := range page.Comments {
		maxOnPage = max(maxOnPage, c.ID)
		if c.PostID == 0 {
			// lost attachment on the server side
			continue
		}
		live[c.ID] = true
		nodes = append(nodes, e.enrich(c))
	}

	lo, hi := startID, maxOnPage
	if first {
		lo = 0
	}
	if maxOnPage >= maxID {
		hi = math.MaxInt
	}
	pages := newPageSet(e.store)
	res.Removed += pages.prune(lo, hi, live)

	var changes []change
	for _, node := range nodes {
		rec := Record(node)
		cached, ok := pages.get(state.CommentPageNumber(node.ID)).Find(node.ID)
		switch {
		case !ok:
			changes = append(changes, change{node: node, record: rec, isNew: true})
		case cached != rec:
			changes = append(changes, change{node: node, record: rec})
		}
	}

	var order []int
	byPost := make(map[int][]change)
	for _, ch := range changes {
		if _, ok := byPost[ch.node.PostID]; !ok {
			order = append(order, ch.node.PostID)
		}
		byPost[ch.node.PostID] = append(byPost[ch.node.PostID], ch)
	}
	e.logger.Printf("found %d new or updated comments for %d posts on page starting with %d", len(changes), len(order), startID)

	for _, postID := range order {
		group := byPost[postID]
		if err := e.applyToPost(postID, group, postIDs); err != nil {
			e.logger.Printf("comments of post %d left for the next run: %v", postID, err)
			res.Skipped += len(group)
			continue
		}
		for _, ch := range group {
			pages.get(state.CommentPageNumber(ch.node.ID)).Put(ch.record)
			pages.touch(state.CommentPageNumber(ch.node.ID))
			if ch.isNew {
				res.Added++
			} else {
				res.Updated++
			}
		}
	}

	if err := pages.save(); err != nil {
		return 0, err
	}
	return maxOnPage, nil
}

// enrich converts an exported comment into a tree node with poster details and a normalized date.
func (e *Engine) enrich(c exportComment) *state.Comment {
	node := &state.Comment{
		ID:       c.ID,
		PostID:   c.PostID,
		PosterID: c.PosterID,
		ParentID: c.ParentID,
		State:    c.State,
		Subject:  c.Subject,
		Body:     c.Body,
		Date:     c.Date,
	}
	if name, url, ok := e.identities.Poster(c.PosterID); ok {
		node.PosterName = name
		node.PosterURL = url
	}
	if orDefault(c.Date, "") != "" {
		if t, err := time.Parse(ljarchive.CommentDateFormat, c.Date); err == nil {
			node.Date = t.Format(ljarchive.DateFormat)
		} else {
			e.logger.Printf("comment %d has unexpected date %q, keeping it as is", c.ID, c.Date)
		}
	}
	return node
}

var errPostMissing = errors.New("post document is missing")

// applyToPost inserts or updates comments in the document of one post.
func (e *Engine) applyToPost(postID int, group []change, postIDs *state.PostIDMap) error {
	publicID, ok := postIDs.Lookup(postID)
	if !ok {
		return errors.Wrapf(errPostMissing, "no public id for post %d", postID)
	}
	doc, ok := e.store.LoadPost(publicID)
	if !ok {
		return errors.Wrapf(errPostMissing, "couldn't open %d.xml", publicID)
	}
	tree := NewTree(doc)
	for _, ch := range group {
		var err error
		if ch.isNew {
			err = tree.Insert(ch.node)
		} else {
			err = tree.Update(ch.node)
		}
		if err != nil {
			return errors.Wrapf(err, "post %d", publicID)
		}
	}
	if _, err := e.store.SavePost(publicID, doc, e.opts.Stylesheet); err != nil {
		return err
	}
	return nil
}

// pageSet holds the metadata pages touched while processing one body page.
type pageSet struct {
	store *state.Store
	pages map[int]*state.CommentPage
	dirty map[int]bool
}

func newPageSet(store *state.Store) *pageSet {
	return &pageSet{store: store, pages: make(map[int]*state.CommentPage), dirty: make(map[int]bool)}
}

func (s *pageSet) get(n int) *state.CommentPage {
	p, ok := s.pages[n]
	if !ok {
		p = s.store.LoadCommentPage(n)
		s.pages[n] = p
	}
	return p
}

func (s *pageSet) touch(n int) {
	s.dirty[n] = true
}

// prune drops records in [lo, hi] that are not live and returns how many were dropped.
func (s *pageSet) prune(lo, hi int, live map[int]bool) int {
	var numbers []int
	if hi == math.MaxInt {
		for _, n := range s.store.CommentPages() {
			if n >= state.CommentPageNumber(lo) {
				numbers = append(numbers, n)
			}
		}
	} else {
		for n := state.CommentPageNumber(lo); n <= state.CommentPageNumber(hi); n++ {
			numbers = append(numbers, n)
		}
	}
	removed := 0
	for _, n := range numbers {
		if ids := s.get(n).Prune(lo, hi, live); len(ids) > 0 {
			removed += len(ids)
			s.touch(n)
		}
	}
	return removed
}

func (s *pageSet) save() error {
	for n := range s.dirty {
		if _, err := s.store.SaveCommentPage(n, s.pages[n]); err != nil {
			return errors.Wrapf(err, "failed to save comment metadata page %d", n)
		}
	}
	return nil
}
