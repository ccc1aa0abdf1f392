package logging

import (
	"io"
	"regexp"
	"strings"
)

type replacement struct {
	re   *regexp.Regexp
	repl string
}

var staticReplacements = []replacement{
	{regexp.MustCompile(`(?i)(ljsession\s*[=:]\s*)[^\s;&"\]]+`), "${1}[SESSION]"},
	{regexp.MustCompile(`(auth_(?:response|challenge)\s*[=:]\s*\[?)[^\s&"\]]+`), "${1}[SECRET]"},
	{regexp.MustCompile(`\b[0-9a-fA-F]{32}\b`), "[DIGEST]"},
}

// RedactingWriter is an io.Writer that masks session cookies, auth values, password digests,
// the archive path and journal names before writing to an underlying writer.
type RedactingWriter struct {
	underlying   io.Writer
	replacements []replacement
}

// NewRedactingWriter creates a new writer. Journal names are matched as whole words, case-insensitively.
func NewRedactingWriter(w io.Writer, outputPath string, journals []string) *RedactingWriter {
	replacements := append([]replacement{}, staticReplacements...)

	if outputPath != "" {
		sanitizedPath := strings.ReplaceAll(regexp.QuoteMeta(outputPath), `\\`, `[/\\]`)
		replacements = append(replacements, replacement{regexp.MustCompile(sanitizedPath), "[OUTPUT_PATH]"})
	}
	for _, journal := range journals {
		journal = strings.TrimSpace(journal)
		if journal == "" {
			continue
		}
		// journal hosts spell underscores as dashes
		variants := regexp.QuoteMeta(journal)
		if dashed := strings.ReplaceAll(journal, "_", "-"); dashed != journal {
			variants += "|" + regexp.QuoteMeta(dashed)
		}
		re := regexp.MustCompile(`(?i)\b(?:` + variants + `)\b`)
		replacements = append(replacements, replacement{re, "[JOURNAL]"})
	}

	return &RedactingWriter{underlying: w, replacements: replacements}
}

// Write redacts p and writes it to the underlying writer. It reports len(p) on success
// whatever the length of the redacted text.
func (rw *RedactingWriter) Write(p []byte) (n int, err error) {
	message := string(p)
	for _, r := range rw.replacements {
		message = r.re.ReplaceAllString(message, r.repl)
	}
	if _, err := rw.underlying.Write([]byte(message)); err != nil {
		return 0, err
	}
	return len(p), nil
}
