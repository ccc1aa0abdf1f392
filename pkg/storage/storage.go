// Package storage defines the run-history store of the archiver.
package storage

import "time"

// RunRecord is one archive run of one journal.
type RunRecord struct {
	ID              int64
	Section         string
	Journal         string
	Started         time.Time
	Finished        time.Time
	PostsWritten    int
	PostsDeleted    int
	CommentsAdded   int
	CommentsUpdated int
	CommentsRemoved int
	// Error is the error text of a failed run, empty on success.
	Error string
}

// Failed reports whether the run ended with an error.
func (r RunRecord) Failed() bool {
	return r.Error != ""
}

// Filter narrows RecentRuns. Zero fields match everything.
type Filter struct {
	Section string
	Journal string
	Limit   int
}

// Storer defines the interface for run-history operations.
type Storer interface {
	// RecordRun stores a finished run and returns its id.
	RecordRun(run RunRecord) (int64, error)
	// RecentRuns returns runs newest first.
	RecentRuns(filter Filter) ([]RunRecord, error)
	// LastSuccess returns the most recent successful run of a journal.
	LastSuccess(section, journal string) (RunRecord, bool, error)
	// Close closes the database connection.
	Close() error
}
