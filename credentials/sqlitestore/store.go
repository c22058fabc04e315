// Package sqlitestore keeps credentials in a SQLite database file.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`

const upsert = `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`

const defaultPollInterval = 500 * time.Millisecond

var (
	_ credentials.KV      = (*Store)(nil)
	_ credentials.Watcher = (*Store)(nil)
)

// Store is a SQLite-backed credentials.KV. Each write transaction also stamps the kv
// table with the writing handle so watchers can tell their own commits apart.
type Store struct {
	db           *sql.DB
	pollInterval time.Duration
	mu           sync.Mutex
	writes       *credentials.WriteLog
	logger       zerolog.Logger
}

type Option func(*Store)

func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if needed) the database at path
func Open(ctx context.Context, path string, options ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	s := &Store{
		db:           db,
		pollInterval: defaultPollInterval,
		writes:       credentials.NewWriteLog(),
		logger:       log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "sqlitestore").Str("path", path).Logger()
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, true, nil
}

// GetMany reads keys with a single statement, which sees one committed state
func (s *Store) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	query := `SELECT key, value FROM kv WHERE key IN (?` + strings.Repeat(`, ?`, len(keys)-1) + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan kv row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, upsert, k, v); err != nil {
				return fmt.Errorf("failed to write %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
				return fmt.Errorf("failed to delete %s: %w", k, err)
			}
		}
		return nil
	})
}

// Watch polls PRAGMA data_version on a dedicated connection; the value moves only when another
// connection commits. Commits stamped by this handle are not reported as external changes.
func (s *Store) Watch(ctx context.Context, onChange func(key string)) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve sqlite connection: %w", err)
	}
	defer conn.Close()

	version, err := dataVersion(ctx, conn)
	if err != nil {
		return err
	}
	seen, seenDigest, err := s.snapshot(ctx, conn)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		v, err := dataVersion(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn().Err(err).Msg("failed to poll data_version")
			continue
		}
		if v == version {
			continue
		}
		version = v

		doc, digest, err := s.snapshot(ctx, conn)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to re-read credentials after change")
			continue
		}
		if digest == seenDigest {
			continue
		}
		for _, k := range s.writes.Changes(seen, doc) {
			onChange(k)
		}
		seen, seenDigest = doc, digest
	}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// inTx runs fn and stamps the table in one transaction. The contents before fn are read
// inside the transaction so the write log knows exactly what this commit replaced.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// the upsert takes the write lock first, so no other commit lands between it and the read
	if _, err := tx.ExecContext(ctx, upsert, credentials.KeyWriter, ""); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to lock kv table: %w", err)
	}
	before, _, err := s.snapshot(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, upsert, credentials.KeyWriter, s.writes.Stamp(before)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to stamp write: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// snapshot reads every row and digests them in key order
func (s *Store) snapshot(ctx context.Context, q queryer) (map[string]string, uint64, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read kv table: %w", err)
	}
	defer rows.Close()

	doc := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, 0, fmt.Errorf("failed to scan kv row: %w", err)
		}
		doc[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := xxhash.New()
	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(doc[k])
		_, _ = h.WriteString("\x00")
	}
	return doc, h.Sum64(), nil
}

func dataVersion(ctx context.Context, conn *sql.Conn) (int64, error) {
	var v int64
	if err := conn.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read data_version: %w", err)
	}
	return v, nil
}
