package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/go-auth-session/credentials"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/users"
)

var (
	_ session.Refresher      = (*RefreshEndpoint)(nil)
	_ session.LogoutNotifier = (*RefreshEndpoint)(nil)
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the API's response wrapper
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

// AuthData is returned by login, register and refresh
type AuthData struct {
	Tokens credentials.Tokens `json:"tokens"`
	User   *users.User        `json:"user,omitempty"`
}

type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

type RegisterRequest struct {
	Email           string `json:"email" validate:"required,email"`
	FirstName       string `json:"first_name" validate:"required"`
	LastName        string `json:"last_name" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Phone           string `json:"phone,omitempty"`
}

// ProfileUpdate carries only the fields being changed
type ProfileUpdate struct {
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Password        string `json:"password,omitempty"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"eqfield=Password"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges credentials for a session. A wrong password is an error matching
// ErrInvalidCredentials; it never triggers a renewal.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*users.User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, autherrors.Wrapf(err, "invalid login request")
	}
	return c.authenticate(ctx, "/auth/login", req)
}

// Register creates an account and signs it in
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*users.User, error) {
	if req.Password != req.PasswordConfirm {
		return nil, autherrors.ErrPasswordMismatch
	}
	if err := validate.Struct(req); err != nil {
		return nil, autherrors.Wrapf(err, "invalid registration request")
	}
	return c.authenticate(ctx, "/auth/register", req)
}

// Logout ends the session locally and on the server
func (c *Client) Logout(ctx context.Context) error {
	return c.coordinator.Logout(ctx)
}

// UpdateProfile sends the changed fields and caches the user record the server returns
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*users.User, error) {
	if update.Password != update.PasswordConfirm {
		return nil, autherrors.ErrPasswordMismatch
	}
	var resp Envelope[*users.User]
	if err := c.Put(ctx, "/users/me", update, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("profile update returned no user")
	}
	if err := c.coordinator.UpdateUser(ctx, resp.Data); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*users.User, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	resp, err := c.send(ctx, http.MethodPost, path, payload, "")
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, classify(resp.status, resp.body)
	}

	var env Envelope[AuthData]
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if err := c.coordinator.Login(ctx, env.Data.Tokens, env.Data.User); err != nil {
		return nil, err
	}
	c.logger.Info().Str("path", path).Msg("signed in")
	return env.Data.User, nil
}

// RefreshEndpoint talks to /auth/refresh and /auth/logout. It is the network side of a
// session.Coordinator and never sends an access token.
type RefreshEndpoint struct {
	*transport
}

func NewRefreshEndpoint(baseURL string, options ...Option) *RefreshEndpoint {
	return &RefreshEndpoint{transport: newTransport(baseURL, "refresh_endpoint", options...)}
}

// Refresh exchanges refreshToken for a new pair. Any non-2xx status is a rejection.
func (e *RefreshEndpoint) Refresh(ctx context.Context, refreshToken string) (credentials.Tokens, error) {
	payload, err := json.Marshal(refreshTokenRequest{RefreshToken: refreshToken})
	if err != nil {
		return credentials.Tokens{}, err
	}
	resp, err := e.send(ctx, http.MethodPost, "/auth/refresh", payload, "")
	if err != nil {
		return credentials.Tokens{}, err
	}
	if !resp.ok() {
		return credentials.Tokens{}, classify(resp.status, resp.body)
	}

	var env Envelope[AuthData]
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return credentials.Tokens{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	tokens := env.Data.Tokens
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return credentials.Tokens{}, autherrors.ErrInvalidTokens
	}
	return tokens, nil
}

// NotifyLogout revokes refreshToken on the server
func (e *RefreshEndpoint) NotifyLogout(ctx context.Context, refreshToken string) error {
	payload, err := json.Marshal(refreshTokenRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	resp, err := e.send(ctx, http.MethodPost, "/auth/logout", payload, "")
	if err != nil {
		return err
	}
	if !resp.ok() {
		return classify(resp.status, resp.body)
	}
	return nil
}
