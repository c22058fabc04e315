package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 << 20

	tracerName = "github.com/jrsteele09/go-auth-session/apiclient"
)

// Option configures a Client or a RefreshEndpoint
type Option func(*transport)

// WithHTTPClient sets the http.Client used for every call
func WithHTTPClient(hc *http.Client) Option {
	return func(t *transport) {
		if hc != nil {
			t.httpClient = hc
		}
	}
}

// WithTimeout bounds each HTTP exchange. Defaults to 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(t *transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *transport) {
		t.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *transport) {
		t.metrics = m
	}
}

// WithTracerProvider overrides the global OpenTelemetry provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *transport) {
		t.tracer = tp.Tracer(tracerName)
	}
}

// transport performs one HTTP exchange against the API. It knows nothing about sessions.
type transport struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

func newTransport(baseURL, component string, options ...Option) *transport {
	t := &transport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		logger:     log.Logger,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range options {
		opt(t)
	}
	t.logger = t.logger.With().Str("component", component).Logger()
	return t
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// send executes the request. accessToken is attached as a Bearer header when not empty.
// Failures to get any response come back as *NetworkError.
func (t *transport) send(ctx context.Context, method, path string, payload []byte, accessToken string) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return response{}, fmt.Errorf("failed to build request: %w", err)
	}

	requestID := ulid.Make().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Warn().Err(err).Str("method", method).Str("path", path).Str("request_id", requestID).Msg("request failed")
		return response{}, &NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return response{}, &NetworkError{Cause: fmt.Errorf("failed to read response body: %w", err)}
	}

	t.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).
		Str("request_id", requestID).Msg("request completed")
	return response{status: resp.StatusCode, body: data}, nil
}
