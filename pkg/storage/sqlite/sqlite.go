package sqlite

import (
	"bytes"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/perpetuallyhorni/ljarchive/pkg/storage"
	"github.com/pkg/errors"
)

//go:embed queries/*.sql
//go:embed queries/*.sql.tpl
var queryFS embed.FS

const defaultLimit = 20

// DB is a SQLite implementation of the storage.Storer interface.
type DB struct {
	Conn *sql.DB // The raw database connection, exposed for extensibility.
}

var _ storage.Storer = (*DB)(nil)

// New opens the database at path, creating it and its schema when missing.
func New(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	instance := &DB{Conn: db}
	if err := instance.createSchema(); err != nil {
		_ = instance.Close()
		return nil, errors.Wrap(err, "failed to create database schema")
	}
	return instance, nil
}

// getQuery reads a raw SQL query from the embedded filesystem.
func getQuery(name string) (string, error) {
	b, err := queryFS.ReadFile("queries/" + name)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read embedded query %s", name)
	}
	return string(b), nil
}

// getParsedQuery parses and executes a SQL template from the embedded filesystem.
func getParsedQuery(templateName string, data any) (string, error) {
	t, err := template.ParseFS(queryFS, "queries/"+templateName)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse embedded query template %s", templateName)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "failed to execute embedded query template %s", templateName)
	}
	return buf.String(), nil
}

func (db *DB) createSchema() error {
	query, err := getQuery("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Conn.Exec(query)
	return err
}

// RecordRun stores a finished run and returns its id.
func (db *DB) RecordRun(run storage.RunRecord) (int64, error) {
	query, err := getQuery("record_run.sql")
	if err != nil {
		return 0, err
	}
	res, err := db.Conn.Exec(query,
		run.Section, run.Journal, run.Started.Unix(), run.Finished.Unix(),
		run.PostsWritten, run.PostsDeleted,
		run.CommentsAdded, run.CommentsUpdated, run.CommentsRemoved,
		run.Error,
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to record run of %s/%s", run.Section, run.Journal)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read run id")
	}
	return id, nil
}

// RecentRuns returns runs newest first, at most filter.Limit of them (20 when unset).
func (db *DB) RecentRuns(filter storage.Filter) ([]storage.RunRecord, error) {
	query, err := getParsedQuery("recent_runs.sql.tpl", filter)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	args := []any{sql.Named("limit", limit)}
	if filter.Section != "" {
		args = append(args, sql.Named("section", filter.Section))
	}
	if filter.Journal != "" {
		args = append(args, sql.Named("journal", filter.Journal))
	}

	rows, err := db.Conn.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer func() {
		if err := rows.Close(); err != nil {
			fmt.Printf("failed to close rows: %v", err)
		}
	}()

	var runs []storage.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error during run row iteration")
	}
	return runs, nil
}

// LastSuccess returns the most recent run of a journal that ended without error.
func (db *DB) LastSuccess(section, journal string) (storage.RunRecord, bool, error) {
	query, err := getQuery("last_success.sql")
	if err != nil {
		return storage.RunRecord{}, false, err
	}
	run, err := scanRun(db.Conn.QueryRow(query, section, journal))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RunRecord{}, false, nil
		}
		return storage.RunRecord{}, false, err
	}
	return run, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (storage.RunRecord, error) {
	var (
		run               storage.RunRecord
		started, finished int64
	)
	err := row.Scan(&run.ID, &run.Section, &run.Journal, &started, &finished,
		&run.PostsWritten, &run.PostsDeleted,
		&run.CommentsAdded, &run.CommentsUpdated, &run.CommentsRemoved,
		&run.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, errors.Wrap(err, "failed to scan run row")
	}
	run.Started = time.Unix(started, 0)
	run.Finished = time.Unix(finished, 0)
	return run, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.Conn.Close()
}
