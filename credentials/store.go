package credentials

import (
	"context"
	"encoding/json"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tokens is the access/refresh pair as issued by the API
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Empty reports whether neither token is set
func (t Tokens) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// Store persists the token pair and the cached user record on top of a KV.
// The pair is always written and removed together.
type Store struct {
	kv     KV
	logger zerolog.Logger
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithLogger sets the logger used to report absorbed corruption
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a credential store over kv
func NewStore(kv KV, options ...StoreOption) *Store {
	s := &Store{
		kv:     kv,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "credentials").Logger()
	return s
}

// KV exposes the underlying medium, e.g. to check whether it implements Watcher
func (s *Store) KV() KV {
	return s.kv
}

// SetTokens persists both tokens atomically
func (s *Store) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" || refreshToken == "" {
		return autherrors.ErrInvalidTokens
	}
	if err := s.kv.SetMany(ctx, map[string]string{
		KeyAccessToken:  accessToken,
		KeyRefreshToken: refreshToken,
	}); err != nil {
		return autherrors.Wrapf(err, "failed to store tokens")
	}
	return nil
}

// AccessToken returns the stored access token, or "" when there is no session
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	t, err := s.Tokens(ctx)
	return t.AccessToken, err
}

// RefreshToken returns the stored refresh token, or "" when there is no session
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	t, err := s.Tokens(ctx)
	return t.RefreshToken, err
}

// Tokens reads both tokens in one KV read. A half-present pair is read again once, since a
// backend without atomic reads may have been caught mid-write; if it persists it can only
// come from outside tampering and is purged.
func (s *Store) Tokens(ctx context.Context) (Tokens, error) {
	t, partial, err := s.readPair(ctx)
	if err != nil || !partial {
		return t, err
	}
	if t, partial, err = s.readPair(ctx); err != nil || !partial {
		return t, err
	}

	s.logger.Warn().Bool("has_access", t.AccessToken != "").Bool("has_refresh", t.RefreshToken != "").
		Msg("found a partial token pair, clearing it")
	if err := s.ClearTokens(ctx); err != nil {
		return Tokens{}, err
	}
	return Tokens{}, nil
}

func (s *Store) readPair(ctx context.Context) (t Tokens, partial bool, err error) {
	vals, err := s.kv.GetMany(ctx, KeyAccessToken, KeyRefreshToken)
	if err != nil {
		return Tokens{}, false, autherrors.Wrapf(err, "failed to read tokens")
	}
	t = Tokens{AccessToken: vals[KeyAccessToken], RefreshToken: vals[KeyRefreshToken]}
	return t, (t.AccessToken == "") != (t.RefreshToken == ""), nil
}

// ClearTokens removes both tokens atomically
func (s *Store) ClearTokens(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyAccessToken, KeyRefreshToken); err != nil {
		return autherrors.Wrapf(err, "failed to clear tokens")
	}
	return nil
}

// Authenticated is true iff both tokens are present
func (s *Store) Authenticated(ctx context.Context) (bool, error) {
	t, err := s.Tokens(ctx)
	if err != nil {
		return false, err
	}
	return !t.Empty(), nil
}

// SetUser caches the user record
func (s *Store) SetUser(ctx context.Context, user *users.User) error {
	if user == nil {
		return s.ClearUser(ctx)
	}
	data, err := json.Marshal(user)
	if err != nil {
		return autherrors.Wrapf(err, "failed to marshal user")
	}
	if err := s.kv.SetMany(ctx, map[string]string{KeyUser: string(data)}); err != nil {
		return autherrors.Wrapf(err, "failed to store user")
	}
	return nil
}

// User returns the cached user record or nil. Unreadable entries (including the literal
// "undefined" some clients persist) are purged and reported as absent.
func (s *Store) User(ctx context.Context) (*users.User, error) {
	raw, err := s.get(ctx, KeyUser)
	if err != nil || raw == "" {
		return nil, err
	}

	var user *users.User
	trimmed := strings.TrimSpace(raw)
	if trimmed != "undefined" {
		if err := json.Unmarshal([]byte(trimmed), &user); err != nil {
			user = nil
		}
	}
	if user == nil {
		s.logger.Warn().Str("key", KeyUser).Msg("discarding unreadable cached user")
		if err := s.ClearUser(ctx); err != nil {
			s.logger.Error().Err(err).Msg("failed to purge cached user")
		}
		return nil, nil
	}
	return user, nil
}

// ClearUser removes the cached user record
func (s *Store) ClearUser(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyUser); err != nil {
		return autherrors.Wrapf(err, "failed to clear user")
	}
	return nil
}

// Clear removes the tokens and the cached user in one step
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, Keys...); err != nil {
		return autherrors.Wrapf(err, "failed to clear credentials")
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, found, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", autherrors.Wrapf(err, "failed to read %s", key)
	}
	if !found {
		return "", nil
	}
	return v, nil
}
