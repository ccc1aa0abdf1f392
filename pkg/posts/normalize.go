package posts

import (
	"context"
	"encoding/xml"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/pkg/errors"
)

var (
	eventKeyRegex   = regexp.MustCompile(`(?i)^events_\d+_(\w+)$`) // events_1_subject
	propNameRegex   = regexp.MustCompile(`(?i)^(prop_\d+_)name$`)  // prop_1_name, value in prop_1_value
	itemIDKeyRegex  = regexp.MustCompile(`(?i)^events_\d+_itemid$`)
	anumKeyRegex    = regexp.MustCompile(`(?i)^events_\d+_anum$`)
	tagSplitPattern = regexp.MustCompile(`\s*,\s*`)
)

// DefaultEventExclusions are event fields never archived.
var DefaultEventExclusions = []string{"logtime", "count"}

// DefaultPropExclusions are post properties never archived.
var DefaultPropExclusions = []string{
	"useragent", "commentalter", "current_moodid", "interface", "give_features", "langs",
	"personifi_tags", "revtime", "revnum", "picture_mapid", "import_source", "opt_backdated",
	"allowmask", "opt_nocomments", "opt_preformatted", "hasscreened", "used_rte",
	"personifi_lang", "personifi_word_count", "reading_time", "spam_counter",
}

// PublicID returns the server item id of a getevents answer and the public id derived from
// it: itemid*256 + anum.
func PublicID(answer *ljarchive.Response) (itemID, publicID int, err error) {
	rawItemID, ok := findByKey(answer, itemIDKeyRegex)
	if !ok {
		return 0, 0, errors.New("could not get itemid from post data")
	}
	rawAnum, ok := findByKey(answer, anumKeyRegex)
	if !ok {
		return 0, 0, errors.New("could not get anum from post data")
	}
	if itemID, err = strconv.Atoi(rawItemID); err != nil {
		return 0, 0, errors.Wrapf(err, "bad itemid %q", rawItemID)
	}
	anum, err := strconv.Atoi(rawAnum)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "bad anum %q", rawAnum)
	}
	return itemID, itemID*256 + anum, nil
}

func findByKey(answer *ljarchive.Response, re *regexp.Regexp) (string, bool) {
	for _, key := range answer.Keys() {
		if re.MatchString(key) {
			return answer.Value(key), true
		}
	}
	return "", false
}

// fieldBuilder turns a getevents answer into post fields.
type fieldBuilder struct {
	excludeEvents map[string]bool
	excludeProps  map[string]bool
	// event receives the unescaped post body of itemID and returns the markup to store
	event func(ctx context.Context, markup string, itemID int) (string, error)
}

func newFieldBuilder(extraEvents, extraProps []string, event func(context.Context, string, int) (string, error)) *fieldBuilder {
	b := &fieldBuilder{excludeEvents: map[string]bool{}, excludeProps: map[string]bool{}, event: event}
	for _, name := range append(append([]string{}, DefaultEventExclusions...), extraEvents...) {
		b.excludeEvents[name] = true
	}
	for _, name := range append(append([]string{}, DefaultPropExclusions...), extraProps...) {
		b.excludeProps[name] = true
	}
	return b
}

// build returns the fields of the answer in server order, events and props interleaved as sent.
func (b *fieldBuilder) build(ctx context.Context, answer *ljarchive.Response, itemID int) ([]state.Field, error) {
	var fields []state.Field
	for _, key := range answer.Keys() {
		var name, value string
		if m := eventKeyRegex.FindStringSubmatch(key); m != nil {
			if b.excludeEvents[m[1]] {
				continue
			}
			name, value = m[1], answer.Value(key)
		} else if m := propNameRegex.FindStringSubmatch(key); m != nil {
			name = answer.Value(key)
			if name == "" || b.excludeProps[name] {
				continue
			}
			value = answer.Value(m[1] + "value")
		} else {
			continue
		}

		switch name {
		case "event":
			markup, err := b.eventMarkup(ctx, value, itemID)
			if err != nil {
				return nil, err
			}
			fields = append(fields, state.NewField(name, markup))
		case "taglist":
			fields = append(fields, TagList(value))
		default:
			fields = append(fields, state.NewField(name, value))
		}
	}
	return fields, nil
}

func (b *fieldBuilder) eventMarkup(ctx context.Context, value string, itemID int) (string, error) {
	markup, err := url.QueryUnescape(value)
	if err != nil {
		// stray '%' in an otherwise plain body
		markup = strings.ReplaceAll(value, "+", " ")
	}
	if b.event == nil {
		return markup, nil
	}
	return b.event(ctx, markup, itemID)
}

// TagList converts "a, b ,c" into a taglist field with one <tag> child per non-blank tag.
func TagList(value string) state.Field {
	f := state.Field{XMLName: xml.Name{Local: "taglist"}}
	for _, tag := range tagSplitPattern.Split(strings.TrimSpace(value), -1) {
		if tag != "" {
			f.Children = append(f.Children, state.NewField("tag", tag))
		}
	}
	return f
}
