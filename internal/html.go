package ljarchive

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PageTitle returns the text of the first <title> element of an HTML page.
func PageTitle(page []byte) (string, bool) {
	z := html.NewTokenizer(bytes.NewReader(page))
	inTitle := false
	var title strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Title {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				title.Write(z.Text())
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if inTitle && atom.Lookup(name) == atom.Title {
				text := title.String()
				return text, strings.TrimSpace(text) != ""
			}
		}
	}
}
