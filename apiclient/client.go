// Package apiclient calls the review-site REST API with the session's access token, renewing
// it once and retrying once when the server answers 401.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client is safe for concurrent use. Every request path should go through one Client per
// Coordinator so renewals are shared.
type Client struct {
	*transport
	coordinator *session.Coordinator
}

func New(baseURL string, coordinator *session.Coordinator, options ...Option) *Client {
	return &Client{
		transport:   newTransport(baseURL, "apiclient", options...),
		coordinator: coordinator,
	}
}

// Coordinator returns the session coordinator the client renews through
func (c *Client) Coordinator() *session.Coordinator {
	return c.coordinator
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends body as JSON (when not nil) and decodes a 2xx response into out (when not nil).
//
// A 401 with a refresh token in the store triggers one renewal and one retry; a second 401
// is returned to the caller. A 401 without a refresh token fails immediately. Any other
// non-2xx status is returned as *RequestError without retrying.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) (err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "apiclient "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	status := "network_error"
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.metrics.Request(method, status, time.Since(start).Seconds())
	}()

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	accessToken, ensureErr := c.coordinator.EnsureFreshToken(ctx)
	if ensureErr != nil {
		c.logger.Warn().Err(ensureErr).Msg("could not ensure a fresh token, using the stored one")
		if accessToken, err = c.coordinator.Store().AccessToken(ctx); err != nil {
			return err
		}
	}

	resp, err := c.send(ctx, method, path, payload, accessToken)
	if err != nil {
		return err
	}

	if resp.status == http.StatusUnauthorized {
		span.AddEvent("unauthorized")
		current, err := c.coordinator.Store().Tokens(ctx)
		if err != nil {
			return err
		}
		if current.RefreshToken == "" {
			status = statusClass(resp.status)
			if autherrors.Is(ensureErr, autherrors.ErrRenewalFailed) {
				return ensureErr
			}
			return classify(resp.status, resp.body)
		}

		if current.AccessToken != accessToken {
			// renewed by someone else since this request was sent
			accessToken = current.AccessToken
		} else if accessToken, err = c.coordinator.Renew(ctx, current.RefreshToken); err != nil {
			status = "renewal_failed"
			return err
		}
		span.AddEvent("retry")
		if resp, err = c.send(ctx, method, path, payload, accessToken); err != nil {
			return err
		}
	}

	status = statusClass(resp.status)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.status))
	if !resp.ok() {
		return classify(resp.status, resp.body)
	}
	if out != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
