package comments

import (
	"encoding/xml"
	"strings"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/pkg/errors"
)

// exportPage is a comment export answer: metadata (maxid, comment ids, user map) or bodies.
type exportPage struct {
	MaxID    int                  `xml:"maxid"`
	Comments []exportComment      `xml:"comments>comment"`
	Users    []state.UserMapEntry `xml:"usermaps>usermap"`
}

type exportComment struct {
	ID       int    `xml:"id,attr"`
	PostID   int    `xml:"jitemid,attr"`
	PosterID string `xml:"posterid,attr"`
	ParentID *int   `xml:"parentid,attr"`
	State    string `xml:"state,attr"`
	Subject  string `xml:"subject"`
	Body     string `xml:"body"`
	Date     string `xml:"date"`
}

func parseExport(data []byte) (*exportPage, error) {
	page := &exportPage{}
	if err := xml.Unmarshal(data, page); err != nil {
		return nil, errors.Wrap(err, "failed to parse comment export")
	}
	return page, nil
}

// orDefault treats blank text as absent.
func orDefault(text, def string) string {
	if strings.TrimSpace(text) == "" {
		return def
	}
	return text
}

// Record builds the cached metadata of a comment: state defaults to "A", blank date is
// omitted, and the digest covers the raw subject followed by the raw body, empty only when
// both are empty.
func Record(c *state.Comment) state.CommentRecord {
	content := c.Subject + c.Body
	hash := ""
	if content != "" {
		hash = ljarchive.MD5Hex(content)
	}
	return state.CommentRecord{
		ID:    c.ID,
		State: orDefault(c.State, "A"),
		Date:  orDefault(c.Date, ""),
		Hash:  hash,
	}
}
