// Package session owns the lifecycle of the stored access token: proactive renewal,
// single-flight refresh calls, login and logout.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-auth-session/broadcast"
	"github.com/jrsteele09/go-auth-session/credentials"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultThreshold      = 2 * time.Minute
	DefaultRenewalTimeout = 10 * time.Second

	renewKey = "renew"
)

// Refresher exchanges a refresh token for a new pair. A rejected refresh token must be
// reported as an error; the coordinator treats every error as terminal for the session.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credentials.Tokens, error)
}

// LogoutNotifier tells the server a refresh token is no longer in use
type LogoutNotifier interface {
	NotifyLogout(ctx context.Context, refreshToken string) error
}

// Session is derived from the credential store on every read
type Session struct {
	User          *users.User `json:"user,omitempty" yaml:"user,omitempty"`
	Authenticated bool        `json:"authenticated" yaml:"authenticated"`
	LoggingOut    bool        `json:"logging_out" yaml:"logging_out"`
}

// Coordinator is the single owner of token renewal for a credential store. All request
// paths in a process should share one Coordinator.
type Coordinator struct {
	store     *credentials.Store
	refresher Refresher
	notifier  LogoutNotifier
	hub       *broadcast.Hub
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	tracer    trace.Tracer

	threshold      time.Duration
	renewalTimeout time.Duration
	logoutGrace    time.Duration
	nowFunc        func() time.Time

	flight     singleflight.Group
	renewing   atomic.Bool
	loggingOut atomic.Bool
}

type CoordinatorOption func(*Coordinator)

// WithThreshold sets how long before expiry a token is renewed. Non-positive values are
// ignored so the coordinator always renews ahead of expiry.
func WithThreshold(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.threshold = d
		}
	}
}

// WithRenewalTimeout bounds each refresh call
func WithRenewalTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.renewalTimeout = d
		}
	}
}

func WithNowFunc(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithBroadcaster(hub *broadcast.Hub) CoordinatorOption {
	return func(c *Coordinator) {
		if hub != nil {
			c.hub = hub
		}
	}
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithLogoutGrace delays the credential clear on Logout. The default is 0.
func WithLogoutGrace(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d >= 0 {
			c.logoutGrace = d
		}
	}
}

func WithLogoutNotifier(n LogoutNotifier) CoordinatorOption {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// NewCoordinator creates a coordinator over store. refresher performs the network exchange.
func NewCoordinator(store *credentials.Store, refresher Refresher, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:          store,
		refresher:      refresher,
		logger:         log.Logger,
		tracer:         otel.Tracer("github.com/jrsteele09/go-auth-session/session"),
		threshold:      DefaultThreshold,
		renewalTimeout: DefaultRenewalTimeout,
		nowFunc:        time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.hub == nil {
		c.hub = broadcast.NewHub(broadcast.WithLogger(c.logger))
	}
	c.logger = c.logger.With().Str("component", "session").Logger()
	return c
}

// Store returns the credential store the coordinator manages
func (c *Coordinator) Store() *credentials.Store {
	return c.store
}

// Broadcaster returns the hub session changes are announced on
func (c *Coordinator) Broadcaster() *broadcast.Hub {
	return c.hub
}

// Subscribe registers fn to be called whenever the session may have changed
func (c *Coordinator) Subscribe(fn func()) (unsubscribe func()) {
	return c.hub.Subscribe(fn)
}

// Renewing reports whether a renewal is in flight
func (c *Coordinator) Renewing() bool {
	return c.renewing.Load()
}

// EnsureFreshToken returns an access token that is not within the renewal threshold of
// expiry, renewing it first if needed. No session is not an error: it returns "", nil.
func (c *Coordinator) EnsureFreshToken(ctx context.Context) (string, error) {
	tokens, err := c.store.Tokens(ctx)
	if err != nil {
		return "", err
	}
	if tokens.Empty() {
		return "", nil
	}

	expiry, ok := token.Expiry(tokens.AccessToken)
	if !ok {
		c.logger.Debug().Msg("access token expiry unknown, using it as is")
		return tokens.AccessToken, nil
	}
	if expiry.Sub(c.nowFunc()) >= c.threshold {
		return tokens.AccessToken, nil
	}

	c.logger.Debug().Time("expiry", expiry).Msg("access token is stale, renewing")
	return c.Renew(ctx, tokens.RefreshToken)
}

// outcome is shared by every waiter of one flight
type outcome struct {
	accessToken string
	notify      sync.Once
	changed     bool
}

// Renew exchanges refreshToken for a new pair. Concurrent calls share one exchange and all
// receive its result. Cancelling ctx only abandons this caller's wait. On failure the
// credentials and cached user are cleared and an error wrapping ErrRenewalFailed is returned.
func (c *Coordinator) Renew(ctx context.Context, refreshToken string) (string, error) {
	if c.renewing.Load() {
		c.metrics.RenewalJoined()
	}

	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(renewKey, func() (interface{}, error) {
		return c.renew(detached, refreshToken)
	})

	select {
	case <-ctx.Done():
		// the flight carries on; its outcome must still be announced
		go func() { c.settle(<-ch) }()
		return "", ctx.Err()
	case res := <-ch:
		return c.settle(res)
	}
}

func (c *Coordinator) settle(res singleflight.Result) (string, error) {
	out, _ := res.Val.(*outcome)
	if out != nil && out.changed {
		out.notify.Do(c.hub.Notify)
	}
	if res.Err != nil {
		return "", res.Err
	}
	return out.accessToken, nil
}

func (c *Coordinator) renew(ctx context.Context, refreshToken string) (*outcome, error) {
	c.renewing.Store(true)
	defer c.renewing.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.renewalTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "session.Renew")
	defer span.End()

	current, err := c.store.Tokens(ctx)
	if err != nil {
		return c.fail(ctx, span, &outcome{}, err)
	}
	if current.Empty() {
		// cleared elsewhere while this caller held an old refresh token
		span.SetAttributes(attribute.String("renewal.result", "no_session"))
		return &outcome{}, fmt.Errorf("%w: %w", autherrors.ErrRenewalFailed, autherrors.ErrNoSession)
	}
	if refreshToken != "" && current.RefreshToken != refreshToken {
		c.logger.Debug().Msg("refresh token already rotated, using stored access token")
		span.SetAttributes(attribute.String("renewal.result", "skipped"))
		c.metrics.Renewal("skipped", 0)
		return &outcome{accessToken: current.AccessToken}, nil
	}

	start := time.Now()
	tokens, err := c.refresher.Refresh(ctx, current.RefreshToken)
	elapsed := time.Since(start).Seconds()
	if err == nil {
		err = c.store.SetTokens(ctx, tokens.AccessToken, tokens.RefreshToken)
	}
	if err != nil {
		c.metrics.Renewal("failed", elapsed)
		return c.fail(ctx, span, &outcome{changed: true}, err)
	}

	c.metrics.Renewal("ok", elapsed)
	span.SetAttributes(attribute.String("renewal.result", "ok"))
	c.logger.Info().Msg("session renewed")
	return &outcome{accessToken: tokens.AccessToken, changed: true}, nil
}

func (c *Coordinator) fail(ctx context.Context, span trace.Span, out *outcome, cause error) (*outcome, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "renewal failed")
	c.logger.Warn().Err(cause).Msg("session renewal failed, clearing credentials")

	if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear credentials after renewal failure")
	}
	out.changed = true
	c.metrics.SessionCleared("renewal_failed")
	return out, fmt.Errorf("%w: %w", autherrors.ErrRenewalFailed, cause)
}

// Session returns the current session state
func (c *Coordinator) Session(ctx context.Context) (Session, error) {
	authenticated, err := c.store.Authenticated(ctx)
	if err != nil {
		return Session{}, err
	}
	user, err := c.store.User(ctx)
	if err != nil {
		return Session{}, err
	}
	return Session{
		User:          user,
		Authenticated: authenticated,
		LoggingOut:    c.loggingOut.Load(),
	}, nil
}

// Login stores a freshly issued pair and user record and announces the change
func (c *Coordinator) Login(ctx context.Context, tokens credentials.Tokens, user *users.User) error {
	if err := c.store.SetTokens(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
		return err
	}
	if err := c.store.SetUser(ctx, user); err != nil {
		return err
	}
	c.hub.Notify()
	return nil
}

// UpdateUser replaces the cached user record and announces the change
func (c *Coordinator) UpdateUser(ctx context.Context, user *users.User) error {
	if err := c.store.SetUser(ctx, user); err != nil {
		return err
	}
	c.hub.Notify()
	return nil
}

// Logout marks the session as logging out, tells the server (best effort), waits the
// configured grace period and clears the credentials. The clear happens even when the server
// call fails or ctx is cancelled during the grace period.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.loggingOut.Store(true)
	c.hub.Notify()

	if c.notifier != nil {
		refresh, err := c.store.RefreshToken(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to read refresh token for logout")
		} else if refresh != "" {
			if err := c.notifier.NotifyLogout(ctx, refresh); err != nil {
				c.logger.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
			}
		}
	}

	if c.logoutGrace > 0 {
		timer := time.NewTimer(c.logoutGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	err := c.store.Clear(context.WithoutCancel(ctx))
	c.loggingOut.Store(false)
	c.metrics.SessionCleared("logout")
	c.hub.Notify()
	if err != nil {
		return err
	}
	c.logger.Info().Msg("logged out")
	return nil
}

// WatchStore forwards changes made by other processes to the broadcaster until ctx is done.
// It returns ErrUnsupported when the store's backend cannot report external writes.
func (c *Coordinator) WatchStore(ctx context.Context) error {
	watcher, ok := c.store.KV().(credentials.Watcher)
	if !ok {
		return autherrors.Wrapf(autherrors.ErrUnsupported, "credential backend %T cannot be watched", c.store.KV())
	}
	return watcher.Watch(ctx, func(key string) {
		c.logger.Debug().Str("key", key).Msg("credentials changed by another process")
		c.hub.Notify()
	})
}
