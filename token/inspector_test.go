package token_test

import (
	"encoding/base64"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	s, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("1234"))
	require.NoError(t, err)
	return s
}

func unsignedToken(payload string) string {
	enc := base64.RawURLEncoding.EncodeToString
	return enc([]byte(`{"alg":"none","typ":"JWT"}`)) + "." + enc([]byte(payload)) + "."
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Second).Truncate(time.Second)

	t.Run("reads exp without verifying", func(t *testing.T) {
		raw := signed(t, jwtlib.MapClaims{"sub": "1", "exp": exp.Unix()})
		got, ok := token.Expiry(raw)
		require.True(t, ok)
		require.True(t, exp.Equal(got))
	})

	t.Run("expired tokens still decode", func(t *testing.T) {
		past := time.Now().Add(-time.Hour).Truncate(time.Second)
		got, ok := token.Expiry(signed(t, jwtlib.MapClaims{"exp": past.Unix()}))
		require.True(t, ok)
		require.True(t, past.Equal(got))
	})

	t.Run("unsigned payload", func(t *testing.T) {
		got, ok := token.Expiry(unsignedToken(`{"exp":1700000000}`))
		require.True(t, ok)
		require.Equal(t, int64(1700000000), got.Unix())
	})

	unknown := map[string]string{
		"empty":            "",
		"opaque":           "not-a-jwt",
		"two segments":     "abc.def",
		"bad base64":       "abc.!!!.def",
		"payload not json": unsignedToken("hello"),
		"missing exp":      unsignedToken(`{"sub":"1"}`),
		"exp wrong type":   unsignedToken(`{"exp":"tomorrow"}`),
	}
	for name, raw := range unknown {
		t.Run(name, func(t *testing.T) {
			require.NotPanics(t, func() {
				got, ok := token.Expiry(raw)
				require.False(t, ok)
				require.True(t, got.IsZero())
			})
		})
	}
}

func TestInspect(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	t.Run("standard claims", func(t *testing.T) {
		raw := signed(t, jwtlib.MapClaims{
			"sub":   "42",
			"email": "jane@example.com",
			"role":  "admin",
			"iat":   now.Unix(),
			"exp":   now.Add(15 * time.Minute).Unix(),
		})
		i, err := token.Inspect(raw)
		require.NoError(t, err)
		require.Equal(t, "42", i.Sub)
		require.Equal(t, "jane@example.com", i.Email)
		require.Equal(t, "admin", i.Role)
		require.True(t, now.Equal(i.Iat))
		require.True(t, now.Add(15*time.Minute).Equal(i.Exp))
	})

	t.Run("numeric user_id fallback", func(t *testing.T) {
		i, err := token.Inspect(unsignedToken(`{"user_id":7}`))
		require.NoError(t, err)
		require.Equal(t, "7", i.Sub)
		require.True(t, i.Exp.IsZero())
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := token.Inspect("garbage")
		require.Error(t, err)
	})
}
