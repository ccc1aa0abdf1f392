// Package scanner finds images in post markup, downloads the ones not cached yet and points
// the markup at the local copies.
package scanner

import (
	"bytes"
	"context"
	"io"
	"log"
	"path"
	"regexp"
	"strings"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// LocalSrcAttr is added to <img> and <a> elements whose target was saved locally.
const LocalSrcAttr = "data-local-src"

// the html parser closes custom journal tags such as <lj user="x"> that are written unclosed
var customClosingTagRegex = regexp.MustCompile(`(?i)</(lj|user)>`)

// Downloader saves a remote image into a folder and returns the stored file name,
// or "" when the URL is not a downloadable image.
type Downloader interface {
	DownloadImage(ctx context.Context, rawURL, destDir string, linked bool) (string, error)
}

// Image is a remote image and its local copy, with the optional larger variant linked around it.
type Image struct {
	Remote       string
	Local        string
	LinkedRemote string
	LinkedLocal  string
}

// Lookup returns the cached copy of a remote image.
type Lookup func(remote string) (Image, bool)

// Result is the outcome of scanning one piece of markup.
type Result struct {
	Markup     string  // Markup is the rewritten markup.
	Downloaded []Image // Downloaded are images fetched during this scan.
	Existing   []Image // Existing are cache hits, with their linked variant as found in the markup.
}

// Scanner scans markup for images.
type Scanner struct {
	downloader Downloader
	imagesDir  string
	folder     string
	logger     *log.Logger
}

// New creates a Scanner saving into imagesDir. Rewritten markup refers to images as
// "<base of imagesDir>/<file>".
func New(downloader Downloader, imagesDir string, logger *log.Logger) (*Scanner, error) {
	if downloader == nil {
		return nil, errors.New("downloader cannot be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Scanner{downloader: downloader, imagesDir: imagesDir, folder: path.Base(strings.ReplaceAll(imagesDir, "\\", "/")), logger: logger}, nil
}

// ScrapeImages downloads the images of markup that are neither cached nor already seen in
// the same markup. Failed downloads are logged and skipped; low disk space and cancellation
// abort the scan.
func (s *Scanner) ScrapeImages(ctx context.Context, markup string, cache Lookup) (*Result, error) {
	res := &Result{Markup: markup}
	if !strings.Contains(strings.ToLower(markup), "<img") {
		return res, nil
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse markup")
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}

	var images []*html.Node
	collectImages(body, &images)

	modified := false
	for _, img := range images {
		src := strings.TrimSpace(attr(img, "src"))
		if src == "" {
			continue
		}
		if cached, ok := cache(src); ok {
			setAttr(img, LocalSrcAttr, s.localRef(cached.Local))
			if err := s.linked(ctx, images, img, &cached, false); err != nil {
				return nil, err
			}
			res.Existing = append(res.Existing, cached)
			modified = true
			continue
		}
		if i := indexOf(res.Downloaded, src); i >= 0 {
			setAttr(img, LocalSrcAttr, s.localRef(res.Downloaded[i].Local))
			if err := s.linked(ctx, images, img, &res.Downloaded[i], false); err != nil {
				return nil, err
			}
			modified = true
			continue
		}
		local, err := s.download(ctx, src, false)
		if err != nil {
			return nil, err
		}
		if local == "" {
			continue
		}
		s.logger.Printf("downloaded image from %s", src)
		setAttr(img, LocalSrcAttr, s.localRef(local))
		res.Downloaded = append(res.Downloaded, Image{Remote: src, Local: local})
		if err := s.linked(ctx, images, img, &res.Downloaded[len(res.Downloaded)-1], true); err != nil {
			return nil, err
		}
		modified = true
	}

	if !modified {
		return res, nil
	}
	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return nil, errors.Wrap(err, "failed to render markup")
		}
	}
	res.Markup = customClosingTagRegex.ReplaceAllString(buf.String(), "")
	return res, nil
}

// linked keeps the larger variant of an image in sync with the link wrapped around it.
func (s *Scanner) linked(ctx context.Context, images []*html.Node, img *html.Node, info *Image, fresh bool) error {
	parent := img.Parent
	wrapped := parent != nil && parent.Type == html.ElementNode && parent.DataAtom == atom.A
	switch {
	case info.LinkedRemote == "" && wrapped:
		href := strings.TrimSpace(attr(parent, "href"))
		if href == "" {
			return nil
		}
		local, err := s.download(ctx, href, true)
		if err != nil || local == "" {
			return err
		}
		if fresh {
			s.logger.Printf("downloaded linked image from %s", href)
		}
		info.LinkedRemote = href
		info.LinkedLocal = local
		setAttr(parent, LocalSrcAttr, s.localRef(local))
	case info.LinkedRemote != "" && wrapped:
		if strings.TrimSpace(attr(parent, "href")) == info.LinkedRemote {
			setAttr(parent, LocalSrcAttr, s.localRef(info.LinkedLocal))
		}
	case info.LinkedRemote != "" && !wrapped:
		for _, other := range images {
			p := other.Parent
			if strings.TrimSpace(attr(other, "src")) == info.Remote && p != nil && p.DataAtom == atom.A &&
				strings.TrimSpace(attr(p, "href")) == info.LinkedRemote {
				return nil
			}
		}
		info.LinkedRemote = ""
		info.LinkedLocal = ""
	}
	return nil
}

// download fetches one image. Only errors that should stop the whole post are returned.
func (s *Scanner) download(ctx context.Context, rawURL string, linked bool) (string, error) {
	local, err := s.downloader.DownloadImage(ctx, rawURL, s.imagesDir, linked)
	if err == nil {
		return local, nil
	}
	if errors.Is(err, ljarchive.ErrDiskSpace) || ctx.Err() != nil {
		return "", err
	}
	s.logger.Printf("couldn't download image %s: %v", rawURL, err)
	return "", nil
}

func (s *Scanner) localRef(name string) string {
	return s.folder + "/" + name
}

func collectImages(n *html.Node, out *[]*html.Node) {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		*out = append(*out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectImages(c, out)
	}
}

func indexOf(images []Image, remote string) int {
	for i, img := range images {
		if img.Remote == remote {
			return i
		}
	}
	return -1
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
