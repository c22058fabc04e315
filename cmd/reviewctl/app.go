package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jrsteele09/go-auth-session/apiclient"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/credentials/filestore"
	"github.com/jrsteele09/go-auth-session/credentials/redisstore"
	"github.com/jrsteele09/go-auth-session/credentials/sqlitestore"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds everything a command needs, built once per invocation
type app struct {
	cfg         config.Config
	logger      zerolog.Logger
	registry    *prometheus.Registry
	store       *credentials.Store
	coordinator *session.Coordinator
	client      *apiclient.Client
	closers     []func() error
}

func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   newLogger(cfg.GetLogLevel(), logOut),
		registry: prometheus.NewRegistry(),
	}
	m := metrics.New(a.registry)

	kv, closer, err := openKV(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closer)
	a.store = credentials.NewStore(kv, credentials.WithLogger(a.logger))

	endpoint := apiclient.NewRefreshEndpoint(cfg.GetAPIURL(),
		apiclient.WithLogger(a.logger),
		apiclient.WithTimeout(cfg.GetRenewalTimeout()),
	)
	a.coordinator = session.NewCoordinator(a.store, endpoint,
		session.WithThreshold(cfg.GetRenewalThreshold()),
		session.WithRenewalTimeout(cfg.GetRenewalTimeout()),
		session.WithLogoutGrace(cfg.GetLogoutGrace()),
		session.WithLogoutNotifier(endpoint),
		session.WithLogger(a.logger),
		session.WithMetrics(m),
	)
	a.client = apiclient.New(cfg.GetAPIURL(), a.coordinator,
		apiclient.WithTimeout(cfg.GetRequestTimeout()),
		apiclient.WithLogger(a.logger),
		apiclient.WithMetrics(m),
	)
	return a, nil
}

func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newLogger(level string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().Timestamp().Logger()
}

// openKV returns the configured credential backend and a function that releases it
func openKV(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (credentials.KV, func() error, error) {
	switch cfg.GetStoreBackend() {
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.GetRedisAddr()})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.GetRedisAddr(), err)
		}
		kv := redisstore.New(client, redisstore.WithPrefix(cfg.GetRedisPrefix()), redisstore.WithLogger(logger))
		return kv, client.Close, nil

	case config.StoreBackendSQLite:
		kv, err := sqlitestore.Open(ctx, cfg.GetStorePath(), sqlitestore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil

	default:
		path := cfg.GetStorePath()
		if path == "" {
			var err error
			if path, err = filestore.DefaultPath(); err != nil {
				return nil, nil, err
			}
		}
		kv, err := filestore.New(path, filestore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return kv, func() error { return nil }, nil
	}
}
