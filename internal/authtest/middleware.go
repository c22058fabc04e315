package authtest

import (
	"context"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

type contextKey string

const contextKeySubject contextKey = "subject"

// RequireAuth validates the Bearer access token: HS256 signature with the server's secret
// and an unexpired exp claim
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if s.consumeFailure() {
				writeJSONError(w, "token rejected", http.StatusUnauthorized)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
				writeJSONError(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			parsed, err := jwtlib.Parse(parts[1], func(*jwtlib.Token) (any, error) {
				return s.secret, nil
			},
				jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
				jwtlib.WithExpirationRequired(),
				jwtlib.WithTimeFunc(s.now),
			)
			if err != nil || !parsed.Valid {
				writeJSONError(w, "invalid token", http.StatusUnauthorized)
				return
			}
			subject, err := parsed.Claims.GetSubject()
			if err != nil || subject == "" {
				writeJSONError(w, "token has no subject", http.StatusUnauthorized)
				return
			}

			next(w, r.WithContext(context.WithValue(r.Context(), contextKeySubject, subject)))
		}
	}
}

func (s *Server) consumeFailure() bool {
	for {
		n := s.failNext.Load()
		if n <= 0 {
			return false
		}
		if s.failNext.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func subjectFrom(ctx context.Context) string {
	v, _ := ctx.Value(contextKeySubject).(string)
	return v
}
