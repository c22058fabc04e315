// Package authtest runs an in-process stand-in for the review site's /auth API. It issues
// HS256 access tokens and rotating refresh tokens, and can be told to misbehave.
package authtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/users"
)

const DefaultAccessTTL = 15 * time.Minute

type account struct {
	user         users.User
	passwordHash string
}

// Server is safe for concurrent use. Create it with NewServer.
type Server struct {
	*httptest.Server

	mux    *http.ServeMux
	routes []string
	secret []byte

	lock          sync.RWMutex
	accounts      map[string]*account // by email
	refreshTokens map[string]int64    // refresh token -> user id
	nextID        int64
	accessTTL     time.Duration
	refreshDelay  time.Duration
	rejectRefresh bool
	nowFunc       func() time.Time

	refreshCalls atomic.Int32
	failNext     atomic.Int32
	requests     atomic.Int32
}

type Option func(*Server)

// WithAccessTTL sets the lifetime of issued access tokens
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = d
	}
}

// WithRefreshDelay makes /auth/refresh wait before answering
func WithRefreshDelay(d time.Duration) Option {
	return func(s *Server) {
		s.refreshDelay = d
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = now
	}
}

// NewServer starts a server that is closed when t finishes
func NewServer(t testing.TB, options ...Option) *Server {
	t.Helper()
	s := newServer(options...)
	t.Cleanup(s.Close)
	return s
}

// Start runs a server outside of tests; the caller must Close it
func Start(options ...Option) *Server {
	return newServer(options...)
}

func newServer(options ...Option) *Server {
	s := &Server{
		mux:           http.NewServeMux(),
		secret:        []byte(uuid.NewString()),
		accounts:      make(map[string]*account),
		refreshTokens: make(map[string]int64),
		accessTTL:     DefaultAccessTTL,
		nowFunc:       time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	s.initRoutes()
	s.Server = httptest.NewServer(s)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes lists the registered patterns
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

// AddUser registers an account directly, bypassing /auth/register
func (s *Server) AddUser(email, password string, role users.RoleType) (*users.User, error) {
	hash, err := users.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if _, exists := s.accounts[email]; exists {
		return nil, fmt.Errorf("user %s already exists", email)
	}
	s.nextID++
	acc := &account{
		user: users.User{
			ID:        s.nextID,
			Email:     email,
			Role:      role,
			CreatedAt: s.nowFunc().UTC(),
		},
		passwordHash: hash,
	}
	s.accounts[email] = acc
	u := acc.user
	return &u, nil
}

// IssueTokens mints a pair for userID whose access token expires after ttl
func (s *Server) IssueTokens(userID int64, ttl time.Duration) (credentials.Tokens, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.issueLocked(userID, ttl)
}

func (s *Server) issueLocked(userID int64, ttl time.Duration) (credentials.Tokens, error) {
	var email string
	var role users.RoleType
	for _, acc := range s.accounts {
		if acc.user.ID == userID {
			email, role = acc.user.Email, acc.user.Role
			break
		}
	}

	now := s.nowFunc()
	access, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub":   fmt.Sprintf("%d", userID),
		"email": email,
		"role":  string(role),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
		"jti":   uuid.NewString(),
	}).SignedString(s.secret)
	if err != nil {
		return credentials.Tokens{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh := uuid.NewString()
	s.refreshTokens[refresh] = userID
	return credentials.Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// RefreshCalls counts requests to /auth/refresh
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// Requests counts every request served
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

// FailNext makes the next n protected requests answer 401 regardless of the token
func (s *Server) FailNext(n int) {
	s.failNext.Store(int32(n))
}

// RejectRefresh makes /auth/refresh answer 401 for every token
func (s *Server) RejectRefresh(reject bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.rejectRefresh = reject
}

// RefreshTokenValid reports whether token would currently be accepted by /auth/refresh
func (s *Server) RefreshTokenValid(token string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.refreshTokens[token]
	return ok
}

func (s *Server) now() time.Time {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.nowFunc()
}
