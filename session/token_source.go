package session

import (
	"context"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
	"golang.org/x/oauth2"
)

var _ oauth2.TokenSource = (*tokenSource)(nil)

type tokenSource struct {
	ctx         context.Context
	coordinator *Coordinator
}

// TokenSource adapts the coordinator to oauth2.TokenSource so it can back oauth2.NewClient.
// Every Token call goes through EnsureFreshToken.
func (c *Coordinator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, coordinator: c}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	access, err := ts.coordinator.EnsureFreshToken(ts.ctx)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, autherrors.ErrNoSession
	}
	refresh, err := ts.coordinator.store.RefreshToken(ts.ctx)
	if err != nil {
		return nil, err
	}

	t := &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: refresh,
	}
	if expiry, ok := token.Expiry(access); ok {
		t.Expiry = expiry
	}
	return t, nil
}
