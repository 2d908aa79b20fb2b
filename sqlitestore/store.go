// Package sqlitestore keeps signatures, record metadata, author identities
// and clustering results in a local SQLite database. It implements the
// storage interfaces of the compare, tortoise and merge packages.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const defaultMaxRetries = 5

// Store is a SQLite backed store. It is safe for concurrent use.
type Store struct {
	db         *sql.DB
	log        logrus.FieldLogger
	maxRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMaxRetries sets how often a busy database is retried.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// Open opens or creates the database at path and initializes the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	s := &Store{db: db, log: logrus.StandardLogger(), maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: connect: %w", err)
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// retryOnBusy retries an operation while the database is locked, with
// exponential backoff starting at 10ms.
func (s *Store) retryOnBusy(ctx context.Context, operation func() error) error {
	var err error
	for i := 0; i < s.maxRetries; i++ {
		if err = operation(); err == nil || !isBusy(err) {
			return err
		}
		backoff := time.Duration(10*(1<<uint(i))) * time.Millisecond
		s.log.WithError(err).WithField("backoff", backoff).Debug("database busy")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("sqlitestore: operation failed after %d retries: %w", s.maxRetries, err)
}

// withTx runs f in a transaction, retried as a whole if the database is busy.
func (s *Store) withTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	return s.retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := f(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		rec INTEGER PRIMARY KEY,
		valid INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS author_names (
		table_id INTEGER NOT NULL,
		ref INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (table_id, ref)
	);

	CREATE TABLE IF NOT EXISTS signatures (
		table_id INTEGER NOT NULL,
		ref INTEGER NOT NULL,
		rec INTEGER NOT NULL,
		PRIMARY KEY (table_id, ref, rec)
	);

	CREATE INDEX IF NOT EXISTS idx_signatures_rec ON signatures(rec);

	CREATE TABLE IF NOT EXISTS signature_fields (
		table_id INTEGER NOT NULL,
		ref INTEGER NOT NULL,
		rec INTEGER NOT NULL,
		code TEXT NOT NULL,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_signature_fields ON signature_fields(table_id, ref, rec, code);
	CREATE INDEX IF NOT EXISTS idx_signature_fields_value ON signature_fields(code, value);

	CREATE TABLE IF NOT EXISTS collaborations (
		rec INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (rec, name)
	);

	CREATE TABLE IF NOT EXISTS citations (
		citer INTEGER NOT NULL,
		cited INTEGER NOT NULL,
		PRIMARY KEY (citer, cited)
	);

	CREATE TABLE IF NOT EXISTS persons (
		personid INTEGER PRIMARY KEY,
		canonical_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS personid_papers (
		personid INTEGER NOT NULL,
		table_id INTEGER NOT NULL,
		ref INTEGER NOT NULL,
		rec INTEGER NOT NULL,
		flag INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (personid, table_id, ref, rec)
	);

	CREATE INDEX IF NOT EXISTS idx_personid_papers_sig ON personid_papers(table_id, ref, rec);

	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		cluster TEXT NOT NULL,
		last_name TEXT NOT NULL,
		table_id INTEGER NOT NULL,
		ref INTEGER NOT NULL,
		rec INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_last_name ON results(last_name);
	`
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, schema)
		return err
	})
}
