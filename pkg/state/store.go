// Package state gives typed access to the on-disk documents of one archived journal:
// the sync cursor, the post id map, comment metadata pages, the user map, the image map
// and the per-post documents.
package state

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/pkg/errors"
)

const (
	// CacheFolder holds every cache document of a journal.
	CacheFolder = "cached data"
	// ImagesFolder holds downloaded images, relative to the journal folder.
	ImagesFolder = "images"
	// CommentPageSize is the number of comment ids covered by one metadata page.
	CommentPageSize = 1000

	cursorFile       = "lastsync.dat"
	postIDsFile      = "cachedpostids.xml"
	userIDsFile      = "cacheduserids.xml"
	imagePathsFile   = "cachedimagepaths.xml"
	commentsMetaFile = "cachedcommentsmetadata_%d.xml"
)

// Store reads and writes the documents of one journal folder.
type Store struct {
	dir    string
	logger *log.Logger
}

// New creates a Store rooted at the journal folder dir.
func New(dir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the journal folder.
func (s *Store) Dir() string {
	return s.dir
}

// ImagesDir returns the folder images are downloaded to.
func (s *Store) ImagesDir() string {
	return filepath.Join(s.dir, ImagesFolder)
}

func (s *Store) cachePath(name string) string {
	return filepath.Join(s.dir, CacheFolder, name)
}

// LoadCursor returns the sync cursor. A missing or unreadable cursor yields the service start date.
func (s *Store) LoadCursor() time.Time {
	path := s.cachePath(cursorFile)
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Printf("couldn't read %s, using default sync date: %v", path, err)
		}
		return ljarchive.MinSyncDate
	}
	t, err := time.Parse(ljarchive.DateFormat, strings.TrimSpace(string(data)))
	if err != nil {
		s.logger.Printf("couldn't parse %s, using default sync date: %v", path, err)
		return ljarchive.MinSyncDate
	}
	return t
}

// SaveCursor persists the sync cursor.
func (s *Store) SaveCursor(t time.Time) (bool, error) {
	return saveBytesIfChanged(s.cachePath(cursorFile), []byte(t.Format(ljarchive.DateFormat)))
}

// LoadPostIDs returns the post id map, or an empty one.
func (s *Store) LoadPostIDs() *PostIDMap {
	m := &PostIDMap{}
	if !LoadOrDefault(s.cachePath(postIDsFile), m) {
		*m = PostIDMap{}
	}
	return m
}

// SavePostIDs persists the post id map if its encoding differs from the file.
func (s *Store) SavePostIDs(m *PostIDMap) (bool, error) {
	return SaveIfChanged(s.cachePath(postIDsFile), m)
}

// CommentPageNumber returns the metadata page a comment id belongs to.
func CommentPageNumber(id int) int {
	return id / CommentPageSize
}

// LoadCommentPage returns a comment metadata page, or an empty one.
func (s *Store) LoadCommentPage(page int) *CommentPage {
	p := &CommentPage{}
	if !LoadOrDefault(s.cachePath(fmt.Sprintf(commentsMetaFile, page)), p) {
		*p = CommentPage{}
	}
	return p
}

// CommentPages lists the numbers of the metadata pages present on disk, ascending.
func (s *Store) CommentPages() []int {
	matches, err := filepath.Glob(s.cachePath(strings.Replace(commentsMetaFile, "%d", "*", 1)))
	if err != nil {
		return nil
	}
	var pages []int
	for _, m := range matches {
		var n int
		if _, err := fmt.Sscanf(filepath.Base(m), commentsMetaFile, &n); err == nil {
			pages = append(pages, n)
		}
	}
	sort.Ints(pages)
	return pages
}

// SaveCommentPage persists a comment metadata page if it changed.
func (s *Store) SaveCommentPage(page int, p *CommentPage) (bool, error) {
	return SaveIfChanged(s.cachePath(fmt.Sprintf(commentsMetaFile, page)), p)
}

// LoadUserMap returns the cached user map, or an empty one.
func (s *Store) LoadUserMap() *UserMap {
	m := &UserMap{}
	if !LoadOrDefault(s.cachePath(userIDsFile), m) {
		*m = UserMap{}
	}
	return m
}

// SaveUserMap persists the user map if it changed.
func (s *Store) SaveUserMap(m *UserMap) (bool, error) {
	return SaveIfChanged(s.cachePath(userIDsFile), m)
}

// LoadImageMap returns the cached image map, or an empty one.
func (s *Store) LoadImageMap() *ImageMap {
	m := &ImageMap{}
	if !LoadOrDefault(s.cachePath(imagePathsFile), m) {
		*m = ImageMap{}
	}
	return m
}

// SaveImageMap persists the image map if it changed.
func (s *Store) SaveImageMap(m *ImageMap) (bool, error) {
	return SaveIfChanged(s.cachePath(imagePathsFile), m)
}

// DeleteImages removes image files from the images folder. Missing files are logged and skipped.
func (s *Store) DeleteImages(names ...string) {
	for _, name := range names {
		if name == "" {
			continue
		}
		path := filepath.Join(s.ImagesDir(), filepath.Base(name))
		if err := os.Remove(path); err != nil {
			s.logger.Printf("couldn't delete image file %s: %v", path, err)
			continue
		}
		s.logger.Printf("deleted image file %s", path)
	}
}

// LoadOrDefault decodes the XML file at path into doc. It reports false, leaving doc in an
// unspecified state, when the file is missing, unreadable or not a valid document of the
// expected root element.
func LoadOrDefault(path string, doc any) bool {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return false
	}
	return xml.Unmarshal(data, doc) == nil
}

// SaveIfChanged encodes doc and replaces the file at path unless it already holds exactly
// the same bytes. It reports whether the file was written.
func SaveIfChanged(path string, doc any) (bool, error) {
	data, err := encode(doc)
	if err != nil {
		return false, errors.Wrapf(err, "failed to encode %s", filepath.Base(path))
	}
	return saveBytesIfChanged(path, data)
}

func encode(doc any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

func saveBytesIfChanged(path string, data []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) { // #nosec G304
		return false, nil
	}
	if err := writeAtomic(path, data); err != nil {
		return false, err
	}
	return true, nil
}

// writeAtomic writes data to a temporary file next to path and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	// #nosec G301
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrapf(err, "failed to write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrapf(err, "failed to sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrapf(err, "failed to close %s", tmpName)
	}
	// #nosec G302
	if err := os.Chmod(tmpName, 0640); err != nil {
		cleanup()
		return errors.Wrapf(err, "failed to chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}
