package ljarchive

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var (
	syncItemKeyRegex  = regexp.MustCompile(`(?i)^sync_(\d+)_item$`) // sync_1_item
	postItemRegex     = regexp.MustCompile(`(?i)^L-(\d+)$`)         // L-1234, other prefixes are not posts
	fractionTailRegex = regexp.MustCompile(`\.\d+$`)                // 2000-12-12 09:00:00.00000
)

// FeedOpt contains options for walking the change log.
type FeedOpt struct {
	// OnPage is called after each page with the number of post items collected so far
	// and the total the server reported for the page.
	OnPage func(collected, total int)
}

// Defaults sets default values for the FeedOpt if they are not already set.
func (opt *FeedOpt) Defaults() *FeedOpt {
	if opt == nil {
		opt = &FeedOpt{}
	}
	if opt.OnPage == nil {
		opt.OnPage = func(collected, total int) {}
	}
	return opt
}

// SyncPage is one decoded syncitems answer.
type SyncPage struct {
	Items   []SyncItem // Items are the post entries of the page.
	MaxTime time.Time  // MaxTime is the latest time of any entry, posts or not.
	Count   int        // Count is the number of entries in this page.
	Total   int        // Total is the number of entries left starting from the requested time.
}

// ParseSyncPage decodes a syncitems answer. Entries that are not posts still count
// toward MaxTime so pagination keeps moving.
func ParseSyncPage(answer *Response, since time.Time) (*SyncPage, error) {
	page := &SyncPage{MaxTime: since}
	for _, key := range answer.Keys() {
		m := syncItemKeyRegex.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		rawTime, ok := answer.Get("sync_" + m[1] + "_time")
		if !ok {
			return nil, errors.Errorf("sync item %s has no time", m[1])
		}
		itemTime, err := ParseTime(rawTime)
		if err != nil {
			return nil, err
		}
		if pm := postItemRegex.FindStringSubmatch(answer.Value(key)); pm != nil {
			id, err := strconv.Atoi(pm[1])
			if err != nil {
				return nil, errors.Wrapf(err, "bad post id in %s", answer.Value(key))
			}
			page.Items = append(page.Items, SyncItem{ID: id, Time: itemTime})
		}
		if itemTime.After(page.MaxTime) {
			page.MaxTime = itemTime
		}
	}

	var err error
	if page.Count, err = strconv.Atoi(answer.Value("sync_count")); err != nil {
		return nil, errors.Wrap(err, "bad sync_count")
	}
	if page.Total, err = strconv.Atoi(answer.Value("sync_total")); err != nil {
		return nil, errors.Wrap(err, "bad sync_total")
	}
	return page, nil
}

// ParseTime parses a protocol timestamp, dropping fractional seconds.
func ParseTime(raw string) (time.Time, error) {
	t, err := time.Parse(DateFormat, fractionTailRegex.ReplaceAllString(raw, ""))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "bad timestamp %q", raw)
	}
	return t, nil
}

// SyncItems walks the change log starting at since and returns every post item, sorted
// ascending by time (ties by id). An id seen more than once keeps its latest time.
func (c *Conn) SyncItems(ctx context.Context, since time.Time, opts ...FeedOpt) ([]SyncItem, error) {
	opt := &FeedOpt{}
	if len(opts) != 0 {
		opt = &opts[0]
	}
	opt = opt.Defaults()

	latest := make(map[int]time.Time)
	cursor := since
	for {
		c.logger.Printf("%s: getting post info for synchronization starting from %s", c.creds.User, cursor.Format(DateFormat))
		answer, err := c.Call(ctx, "syncitems", url.Values{"lastsync": {cursor.Format(DateFormat)}})
		if err != nil {
			return nil, err
		}
		page, err := ParseSyncPage(answer, cursor)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if seen, ok := latest[item.ID]; !ok || item.Time.After(seen) {
				latest[item.ID] = item.Time
			}
		}
		opt.OnPage(len(latest), page.Total)

		if page.Count >= page.Total {
			break
		}
		if !page.MaxTime.After(cursor) {
			return nil, errors.Errorf("sync log did not advance past %s with %d of %d items returned", cursor.Format(DateFormat), page.Count, page.Total)
		}
		cursor = page.MaxTime
	}

	items := make([]SyncItem, 0, len(latest))
	for id, t := range latest {
		items = append(items, SyncItem{ID: id, Time: t})
	}
	SortSyncItems(items)
	return items, nil
}

// SortSyncItems orders items ascending by time, then by id.
func SortSyncItems(items []SyncItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Time.Equal(items[j].Time) {
			return items[i].ID < items[j].ID
		}
		return items[i].Time.Before(items[j].Time)
	})
}
