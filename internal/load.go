package ljarchive

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cavaliergopher/grab/v3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/perpetuallyhorni/ljarchive/internal/fs"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

var imageContentTypeRegex = regexp.MustCompile(`(?i)^image/(\w+)$`)

// DownloadImage downloads an image into destDir and returns the name of the stored file.
// It returns "" with a nil error when the URL does not serve an image or answers with a
// terminal status; exhausted retries and low disk space are returned as errors.
func (c *Conn) DownloadImage(ctx context.Context, rawURL, destDir string, linked bool) (string, error) {
	// #nosec G301
	if err := os.MkdirAll(destDir, 0750); err != nil {
		return "", errors.Wrap(err, "failed to create images directory")
	}
	if err := c.checkDiskSpace(destDir); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := c.wait(ctx); err != nil {
			return "", err
		}
		name, err := c.downloadOnce(ctx, rawURL, destDir, linked)
		if err == nil {
			return name, nil
		}
		if errors.Is(err, errNotImage) {
			c.logger.Printf("%s: %v", rawURL, err)
			return "", nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Terminal() {
			c.logger.Printf("error %d on downloading from %s, stopping download attempts", statusErr.Code, rawURL)
			return "", nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		c.logger.Printf("download attempt #%d from %s failed: %v", attempt, rawURL, err)
	}
	c.logger.Printf("couldn't download image from %s after %d attempts", rawURL, c.retries)
	return "", errors.Wrapf(ErrRetriesExhausted, "download of %s failed after %d attempts (last error: %v)", rawURL, c.retries, lastErr)
}

// downloadOnce performs a single download attempt into a temporary file and renames it.
func (c *Conn) downloadOnce(ctx context.Context, rawURL, destDir string, linked bool) (string, error) {
	tmpPath := filepath.Join(destDir, uuid.NewString()+".tmp")
	req, err := grab.NewRequest(tmpPath, rawURL)
	if err != nil {
		return "", errors.Wrap(err, "failed to build download request")
	}
	req = req.WithContext(ctx)
	req.NoResume = true

	ext := ""
	req.BeforeCopy = func(resp *grab.Response) error {
		contentType := resp.HTTPResponse.Header.Get("Content-Type")
		ext = extensionFromContentType(contentType)
		if ext == "" && contentType != "" && !isGenericContentType(contentType) {
			return errors.Wrapf(errNotImage, "content type %s", contentType)
		}
		return nil
	}

	resp := c.grab.Do(req)
	if err := resp.Err(); err != nil {
		_ = os.Remove(tmpPath)
		var codeErr grab.StatusCodeError
		if errors.As(err, &codeErr) {
			return "", &StatusError{URL: rawURL, Code: int(codeErr)}
		}
		return "", err
	}

	if ext == "" {
		// No usable Content-Type header, sniff the payload instead.
		detected, err := mimetype.DetectFile(tmpPath)
		if err != nil || !strings.HasPrefix(detected.String(), "image/") {
			_ = os.Remove(tmpPath)
			return "", errors.Wrap(errNotImage, "payload is not an image")
		}
		ext = normalizeExtension(strings.TrimPrefix(detected.Extension(), "."))
	}

	finalPath, err := renameUnique(tmpPath, filepath.Join(destDir, ImageFileName(rawURL, ext, linked)))
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return filepath.Base(finalPath), nil
}

func (c *Conn) checkDiskSpace(dir string) error {
	err := fs.Ensure(dir, c.minFreeSpace)
	var spaceErr *fs.SpaceError
	if errors.As(err, &spaceErr) {
		return errors.Wrap(ErrDiskSpace, spaceErr.Error())
	}
	return errors.Wrap(err, "failed to check free disk space")
}

// extensionFromContentType maps image/<type> to a file extension.
func extensionFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	m := imageContentTypeRegex.FindStringSubmatch(mediaType)
	if m == nil {
		return ""
	}
	return normalizeExtension(m[1])
}

func isGenericContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err != nil || mediaType == "application/octet-stream" || mediaType == "binary/octet-stream"
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(ext)
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}

// ImageFileName builds the local name of a downloaded image:
// "<name>[ (linked)] (<host>).<ext>". The extension follows the content type unless the
// URL already ends with it. URLs without an extension get a random name.
func ImageFileName(rawURL, ext string, linked bool) string {
	host := ""
	stem := ""
	fileExt := ext
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
		last := path.Base(u.Path)
		if strings.Contains(last, ".") && last != "." {
			urlExt := path.Ext(last)
			stem = strings.TrimSuffix(last, urlExt)
			if strings.ToLower(strings.TrimPrefix(urlExt, ".")) == ext {
				fileExt = strings.TrimPrefix(urlExt, ".")
			}
		}
	}
	if stem == "" {
		stem = uuid.NewString()
	}
	suffix := ""
	if linked {
		suffix = " (linked)"
	}
	return norm.NFC.String(fmt.Sprintf("%s%s (%s).%s", stem, suffix, host, fileExt))
}

// renameUnique moves oldPath to newPath. When newPath is taken, " (N)" is added to the
// name with N one greater than the largest number already in use.
func renameUnique(oldPath, newPath string) (string, error) {
	target := newPath
	if _, err := os.Stat(newPath); err == nil {
		dir := filepath.Dir(newPath)
		ext := filepath.Ext(newPath)
		stem := strings.TrimSuffix(filepath.Base(newPath), ext)
		target = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, nextCopyNumber(dir, stem, ext), ext))
	}
	if err := os.Rename(oldPath, target); err != nil {
		return "", errors.Wrapf(err, "failed to rename %s to %s", oldPath, target)
	}
	return target, nil
}

// nextCopyNumber scans dir for "<stem> (N)<ext>" and returns the next free N.
func nextCopyNumber(dir, stem, ext string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}
	prefix := stem + " ("
	suffix := ")" + ext
	highest := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) || len(name) <= len(prefix)+len(suffix) {
			continue
		}
		n, err := strconv.Atoi(name[len(prefix) : len(name)-len(suffix)])
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1
}
