// Package filestore keeps credentials in a single JSON document on disk, shared by every
// process of the same OS user.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	_ credentials.KV      = (*Store)(nil)
	_ credentials.Watcher = (*Store)(nil)
)

// Store is a file-backed credentials.KV. Writes go to path+".tmp", are fsynced and then
// renamed over path while holding an exclusive lock on path+".lock", so readers in any
// process see either the old or the new document. Every document carries the stamp of
// the handle that wrote it.
type Store struct {
	path   string
	mu     sync.Mutex
	writes *credentials.WriteLog
	logger zerolog.Logger
}

type Option func(*Store)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// DefaultPath returns $HOME/.reviewctl/credentials.json
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".reviewctl", "credentials.json"), nil
}

// New creates the parent directory of path (0700) and returns a store for it
func New(path string, options ...Option) (*Store, error) {
	s := &Store{
		path:   filepath.Clean(path),
		writes: credentials.NewWriteLog(),
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "filestore").Str("path", s.path).Logger()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}
	return s, nil
}

// Path returns the document location
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	doc, _, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (s *Store) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	doc, _, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) SetMany(_ context.Context, values map[string]string) error {
	return s.update(func(doc map[string]string) {
		for k, v := range values {
			doc[k] = v
		}
	})
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	return s.update(func(doc map[string]string) {
		for _, k := range keys {
			delete(doc, k)
		}
	})
}

// Watch reports keys changed by other processes until ctx is done. The directory is
// watched rather than the file because every write replaces the file by rename. Stamps
// make every write unique, so an unchanged digest means the event carries nothing new.
func (s *Store) Watch(ctx context.Context, onChange func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	seen, seenDigest, err := s.read()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("file watcher error")
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			doc, digest, err := s.read()
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to re-read credentials after change")
				continue
			}
			if digest == seenDigest {
				continue
			}
			for _, key := range s.writes.Changes(seen, doc) {
				onChange(key)
			}
			seen, seenDigest = doc, digest
		}
	}
}

// read loads the document; a missing file is an empty document and an unparsable one is
// logged and treated as empty so the next write repairs it
func (s *Store) read() (map[string]string, uint64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, 0, nil
		}
		return nil, 0, fmt.Errorf("read credentials file: %w", err)
	}

	doc := map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn().Err(err).Msg("credentials file is not valid JSON, treating as empty")
			doc = map[string]string{}
		}
	}
	return doc, xxhash.Sum64(data), nil
}

func (s *Store) update(mutate func(doc map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lock.Close() }()

	if err := lockFile(lock.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer unlockFile(lock.Fd()) //nolint:errcheck

	doc, _, err := s.read()
	if err != nil {
		return err
	}
	stamp := s.writes.Stamp(doc)
	mutate(doc)
	doc[credentials.KeyWriter] = stamp

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	data = append(data, '\n')

	return s.writeAtomic(data)
}

func (s *Store) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to credentials: %w", err)
	}
	return nil
}
