package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

// Introspection is the unverified view of an access token's claims.
// Nothing here has been checked against a signature; the API stays the only
// authority on whether the token is valid.
type Introspection struct {
	Sub   string    `json:"sub,omitempty" yaml:"sub,omitempty"`     // Users unique ID
	Email string    `json:"email,omitempty" yaml:"email,omitempty"` // Email claim when the API includes one
	Role  string    `json:"role,omitempty" yaml:"role,omitempty"`   // Role claim when the API includes one
	Iat   time.Time `json:"iat,omitempty" yaml:"iat,omitempty"`     // Issued at time
	Exp   time.Time `json:"exp,omitempty" yaml:"exp,omitempty"`     // Expiration
}

var parser = jwtlib.NewParser()

// Expiry returns the exp claim of rawToken. The second result is false when the token
// is malformed or carries no expiry; decode failures are never returned to the caller.
func Expiry(rawToken string) (time.Time, bool) {
	claims, err := unverifiedClaims(rawToken)
	if err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Inspect decodes the payload segment of rawToken without verifying it
func Inspect(rawToken string) (*Introspection, error) {
	claims, err := unverifiedClaims(rawToken)
	if err != nil {
		return nil, err
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		// Some deployments put the numeric user id in user_id instead of sub
		if id, ok := claims["user_id"]; ok {
			sub = fmt.Sprint(id)
		}
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)

	i := &Introspection{Sub: sub, Email: email, Role: role}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		i.Iat = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		i.Exp = exp.Time
	}
	return i, nil
}

func unverifiedClaims(rawToken string) (jwtlib.MapClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, autherrors.ErrMalformedToken
	}

	unverifiedToken, _, err := parser.ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrMalformedToken, "%v", err)
	}

	claims, ok := unverifiedToken.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("error extracting claims")
	}
	return claims, nil
}
