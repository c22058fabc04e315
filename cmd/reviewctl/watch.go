package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newWatchCmd(o *rootOptions) *cobra.Command {
	var (
		keepFresh   bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Report session changes made by any process sharing the credential store",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			displayAppname(cmd.ErrOrStderr(), a.cfg.GetAppName())

			var mu sync.Mutex
			report := func() {
				mu.Lock()
				defer mu.Unlock()
				s, err := a.coordinator.Session(ctx)
				if err != nil {
					a.logger.Warn().Err(err).Msg("failed to read session")
					return
				}
				who := "-"
				if s.User != nil {
					who = s.User.Email
				}
				fmt.Fprintf(out, "%s authenticated=%t logging_out=%t user=%s\n",
					time.Now().Format(time.RFC3339), s.Authenticated, s.LoggingOut, who)
			}
			defer a.coordinator.Subscribe(report)()
			report()

			if metricsAddr != "" {
				server := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := listenAndServe(server, a.logger); err != nil {
						a.logger.Error().Err(err).Msg("metrics server stopped")
					}
				}()
				defer func() {
					if err := shutdown(server); err != nil {
						a.logger.Warn().Err(err).Msg("metrics server shutdown")
					}
				}()
			}

			var wg sync.WaitGroup
			defer wg.Wait()
			if keepFresh {
				wg.Add(1)
				go func() {
					defer wg.Done()
					keepTokenFresh(ctx, a, a.cfg.GetRenewalThreshold()/2)
				}()
			}

			err := a.coordinator.WatchStore(ctx)
			switch {
			case errors.Is(err, autherrors.ErrUnsupported):
				a.logger.Warn().Err(err).Msg("changes from other processes will not be reported")
				<-ctx.Done()
				return nil
			case ctx.Err() != nil:
				return nil
			}
			return err
		}),
	}
	cmd.Flags().BoolVar(&keepFresh, "keep-fresh", false, "renew the access token ahead of expiry while watching")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func keepTokenFresh(ctx context.Context, a *app, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.coordinator.EnsureFreshToken(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn().Err(err).Msg("failed to keep the session fresh")
			}
		}
	}
}

func listenAndServe(server *http.Server, logger zerolog.Logger) error {
	logger.Info().Str("addr", server.Addr).Msg("metrics listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
