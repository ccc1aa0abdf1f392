package ljarchive

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const (
	// DateFormat is the timestamp layout used by the flat protocol and by the sync cursor file.
	DateFormat = "2006-01-02 15:04:05"
	// CommentDateFormat is the timestamp layout used by the comment export pages.
	CommentDateFormat = "2006-01-02T15:04:05Z"
	// Generator is written into every post document and sent as the User-Agent by default.
	Generator = "Archiver"
	// ExternalUserPrefix marks federated identities in user maps.
	ExternalUserPrefix = "ext_"
)

// MinSyncDate is the day the service started; sync enumeration always begins here.
var MinSyncDate = time.Date(1999, time.March, 18, 0, 0, 0, 0, time.UTC)

var (
	// ErrRetriesExhausted is returned when a request kept failing after every allowed attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrDiskSpace is returned when there is not enough free space to store a download.
	ErrDiskSpace = errors.New("insufficient disk space")
	// errNotImage marks a download whose payload is not an image.
	errNotImage = errors.New("not an image")
)

// Credentials identify one journal on one server.
type Credentials struct {
	Server       string // Server is the base URL, e.g. https://www.livejournal.com.
	User         string // User is the journal (login) name.
	PasswordHash string // PasswordHash is the md5 hex digest of the password.
}

// SyncItem is one entry of the server's change log.
type SyncItem struct {
	ID   int       // ID is the server-side post id.
	Time time.Time // Time is when the post was created or last edited.
}

// ExportKind selects what a comment export page returns.
type ExportKind string

const (
	// ExportMeta requests comment ids, states, the max id and the user map.
	ExportMeta ExportKind = "comment_meta"
	// ExportBody requests full comment bodies.
	ExportBody ExportKind = "comment_body"
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Terminal reports whether retrying the request is pointless.
func (e *StatusError) Terminal() bool {
	switch e.Code {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}

// ServerError is a flat protocol answer carrying success=FAIL.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}
