package state

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// PostDocument is one archived post: its normalized fields followed by the comment tree.
type PostDocument struct {
	XMLName  xml.Name     `xml:"post"`
	Fields   []Field      `xml:",any"`
	Comments *CommentList `xml:"comments"`
}

// Field is a post element. Leaf fields carry Text, list fields such as taglist carry Children.
type Field struct {
	XMLName  xml.Name
	Text     string  `xml:",chardata"`
	Children []Field `xml:",any"`
}

// NewField returns a leaf field.
func NewField(name, text string) Field {
	return Field{XMLName: xml.Name{Local: name}, Text: text}
}

// Field returns the first field with the given name.
func (d *PostDocument) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.XMLName.Local == name {
			return f, true
		}
	}
	return Field{}, false
}

// CommentList is a comment container: the post's top-level comments or the replies of a comment.
type CommentList struct {
	Comments []*Comment `xml:"comment"`
}

// Comment is one node of the comment tree.
type Comment struct {
	ID         int          `xml:"id,attr"`
	PostID     int          `xml:"jitemid,attr"`
	PosterID   string       `xml:"posterid,attr,omitempty"`
	ParentID   *int         `xml:"parentid,attr,omitempty"`
	State      string       `xml:"state,attr,omitempty"`
	PosterName string       `xml:"poster_name,attr,omitempty"`
	PosterURL  string       `xml:"poster_url,attr,omitempty"`
	Subject    string       `xml:"subject,omitempty"`
	Body       string       `xml:"body,omitempty"`
	Date       string       `xml:"date,omitempty"`
	Replies    *CommentList `xml:"comments"`
}

// PostPath returns the file of a post document.
func (s *Store) PostPath(publicID int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.xml", publicID))
}

// LoadPost reads a post document. It reports false when the file is missing or unparseable.
func (s *Store) LoadPost(publicID int) (*PostDocument, bool) {
	path := s.PostPath(publicID)
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Printf("couldn't read post file %s: %v", path, err)
		}
		return nil, false
	}
	doc := &PostDocument{}
	if err := xml.Unmarshal(data, doc); err != nil {
		s.logger.Printf("couldn't parse post file %s: %v", path, err)
		return nil, false
	}
	for i := range doc.Fields {
		doc.Fields[i].trimLayout()
	}
	return doc, true
}

// trimLayout drops the indentation whitespace collected between child elements.
func (f *Field) trimLayout() {
	if len(f.Children) == 0 {
		return
	}
	if strings.TrimSpace(f.Text) == "" {
		f.Text = ""
	}
	for i := range f.Children {
		f.Children[i].trimLayout()
	}
}

// SavePost writes a post document if its encoding changed. A non-empty stylesheet adds an
// xml-stylesheet processing instruction pointing at it.
func (s *Store) SavePost(publicID int, doc *PostDocument, stylesheet string) (bool, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if stylesheet != "" {
		fmt.Fprintf(&buf, "<?xml-stylesheet type=\"text/xsl\" href=\"%s\"?>\n", filepath.Base(stylesheet))
	}
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return false, errors.Wrapf(err, "failed to encode post %d", publicID)
	}
	buf.WriteString("\n")
	return saveBytesIfChanged(s.PostPath(publicID), buf.Bytes())
}

// DeletePost removes a post document. A missing file is logged, not an error.
func (s *Store) DeletePost(publicID int) error {
	path := s.PostPath(publicID)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Printf("post file %s is already gone", path)
			return nil
		}
		return errors.Wrapf(err, "failed to delete %s", path)
	}
	s.logger.Printf("deleted post file %s", path)
	return nil
}

// InstallStylesheet copies the stylesheet at src into the journal folder when the copy is
// missing or older than src.
func (s *Store) InstallStylesheet(src string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "stylesheet %s not found", src)
	}
	dst := filepath.Join(s.dir, filepath.Base(src))
	if dstInfo, err := os.Stat(dst); err == nil && !dstInfo.ModTime().Before(srcInfo.ModTime()) {
		return nil
	}
	data, err := os.ReadFile(src) // #nosec G304
	if err != nil {
		return errors.Wrapf(err, "failed to read stylesheet %s", src)
	}
	if err := writeAtomic(dst, data); err != nil {
		return err
	}
	if err := os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return errors.Wrapf(err, "failed to set times on %s", dst)
	}
	s.logger.Printf("copied stylesheet %s to %s", src, dst)
	return nil
}
