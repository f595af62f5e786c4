// Package store is the durable storage layer: a single embedded SQLite
// database with WAL journaling, busy-timeout on contention, a bounded write
// queue (default concurrency 1, configurable via WriterConfig), and
// idempotent schema migrations. All other components route their mutations
// through a *Store so write ordering and concurrency stay centralized.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"justmemory/internal/errs"
	"justmemory/internal/logging"
)

// GlobalProject is the reserved project id visible to every other project's
// reads.
const GlobalProject = "global"

// Store wraps the SQLite connection and enforces a bounded-write-queue
// discipline: at most writeSem's capacity mutations run at once.
type Store struct {
	db     *sql.DB
	dbPath string

	writeSem chan struct{} // bounded write queue; readers use the pool directly

	ftsAvailable bool
	vecAvailable bool
}

// Open initializes (or reopens) the database at path with the default write
// concurrency of 1, running migrations to CurrentSchemaVersion. A missing
// directory is created.
func Open(path string) (*Store, error) {
	return OpenWithConcurrency(path, 1)
}

// OpenWithConcurrency is like Open but bounds the write queue to
// maxConcurrency concurrent mutations instead of the default of 1, per the
// configurable bounded write queue in spec Section 5 (writer.max_concurrency
// in config.WriterConfig). maxConcurrency below 1 is treated as 1.
func OpenWithConcurrency(path string, maxConcurrency int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStorage, "Open")
	defer timer.Stop()

	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(errs.SchemaError, err, "create data directory %s", dir)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, errs.Wrap(errs.SchemaError, err, "open database %s", path)
	}
	// WAL mode allows any number of concurrent readers alongside the
	// writes withWrite bounds through writeSem, so the pool itself must
	// not cap the database to one connection or concurrent reads would
	// queue behind each other for no reason.
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(16)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StorageDebug("pragma failed (%s): %v", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: path, writeSem: make(chan struct{}, maxConcurrency)}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.SchemaError, err, "create schema")
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.SchemaError, err, "run migrations")
	}
	s.probeFTS()
	s.probeVec()

	logging.Storage("storage layer ready at %s (fts=%v, vec=%v)", path, s.ftsAvailable, s.vecAvailable)
	return s, nil
}

// Close checkpoints the WAL and closes the database handle.
func (s *Store) Close() error {
	s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DBPath returns the path of the underlying database file.
func (s *Store) DBPath() string { return s.dbPath }

// probeFTS checks whether the linked SQLite build has FTS5 compiled in.
func (s *Store) probeFTS() {
	_, err := s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS __fts_probe USING fts5(x)`)
	if err != nil {
		logging.Storage("FTS5 unavailable, keyword search will use LIKE fallback: %v", err)
		s.ftsAvailable = false
		return
	}
	s.db.Exec(`DROP TABLE IF EXISTS __fts_probe`)
	s.ftsAvailable = true
}

// probeVec checks whether the sqlite-vec extension is loaded by attempting
// to create a throwaway vec0 virtual table.
func (s *Store) probeVec() {
	_, err := s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS __vec_probe USING vec0(embedding float[1])`)
	if err != nil {
		logging.Storage("sqlite-vec unavailable, nearest-neighbor search will use exact scan: %v", err)
		s.vecAvailable = false
		return
	}
	s.db.Exec(`DROP TABLE IF EXISTS __vec_probe`)
	s.vecAvailable = true
}

// withWrite serializes a mutation against the bounded write queue and
// retries StorageBusy errors with exponential backoff, up to three attempts,
// per the propagation policy in the error handling design.
func (s *Store) withWrite(ctx context.Context, fn func(*sql.Tx) error) error {
	select {
	case s.writeSem <- struct{}{}:
	case <-ctx.Done():
		return errs.Wrap(errs.Timeout, ctx.Err(), "acquire write queue slot")
	}
	defer func() { <-s.writeSem }()

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)

	op := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusyErr(err) {
				return err // retryable
			}
			return backoff.Permanent(errs.Wrap(errs.StorageBusy, err, "begin transaction"))
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			if isBusyErr(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := tx.Commit(); err != nil {
			if isBusyErr(err) {
				return err
			}
			return backoff.Permanent(errs.Wrap(errs.StorageBusy, err, "commit transaction"))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if e, ok := err.(*errs.Error); ok {
			return e
		}
		return errs.Wrap(errs.StorageBusy, err, "write failed after retries")
	}
	return nil
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// WithWrite exposes the bounded-write-queue helper to sibling components
// (the Vector Store) that must mutate tables owned by this database under
// the same write concurrency bound as everything else.
func (s *Store) WithWrite(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.withWrite(ctx, fn)
}

// DB exposes the underlying handle for read-only queries issued by sibling
// components that share this database file and connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// VecAvailable reports whether the sqlite-vec extension was detected at
// startup.
func (s *Store) VecAvailable() bool { return s.vecAvailable }

// FTSAvailable reports whether FTS5 was detected at startup.
func (s *Store) FTSAvailable() bool { return s.ftsAvailable }

// now returns the current UTC instant, as a single call site so tests can
// reason about time-dependent behavior consistently.
func now() time.Time { return time.Now().UTC() }
