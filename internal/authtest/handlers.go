package authtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/users"
)

const contentTypeJSON = "application/json; charset=utf-8"

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type authData struct {
	Tokens credentials.Tokens `json:"tokens"`
	User   *users.User        `json:"user,omitempty"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type registerRequest struct {
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	Phone           string `json:"phone"`
}

type profileUpdate struct {
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	Phone           *string `json:"phone"`
	Password        string  `json:"password"`
	PasswordConfirm string  `json:"password_confirm"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// EchoResponse is what /echo returns
type EchoResponse struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Body      string `json:"body"`
	Subject   string `json:"subject"`
	RequestID string `json:"request_id"`
}

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("POST /auth/register", s.RegisterHandler())
	s.RegisterRouteFunc("POST /auth/login", s.LoginHandler())
	s.RegisterRouteFunc("POST /auth/refresh", s.RefreshHandler())
	s.RegisterRouteFunc("POST /auth/logout", s.LogoutHandler())
	s.RegisterRouteFunc("GET /auth/me", s.RequireAuth()(s.MeHandler()))
	s.RegisterRouteFunc("PUT /users/me", s.RequireAuth()(s.UpdateProfileHandler()))
	s.RegisterRouteFunc("/echo", s.RequireAuth()(s.EchoHandler()))
	s.RegisterRouteFunc("GET /status/{code}", s.StatusHandler())
}

// RegisterHandler creates an account and signs it in
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Password != req.PasswordConfirm {
			writeJSONError(w, "passwords do not match", http.StatusUnprocessableEntity)
			return
		}
		if err := users.ValidatePasswordStrength(req.Password); err != nil {
			writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		created, err := s.AddUser(req.Email, req.Password, users.RoleUser)
		if err != nil {
			writeJSONError(w, "email already registered", http.StatusUnprocessableEntity)
			return
		}

		s.lock.Lock()
		acc := s.accounts[req.Email]
		acc.user.FirstName = req.FirstName
		acc.user.LastName = req.LastName
		acc.user.Phone = req.Phone
		user := acc.user
		tokens, err := s.issueLocked(created.ID, s.accessTTL)
		s.lock.Unlock()
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, envelope{Success: true, Data: authData{Tokens: tokens, User: &user}})
	}
}

// LoginHandler checks the password with bcrypt and issues a pair
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		s.lock.Lock()
		defer s.lock.Unlock()
		acc, ok := s.accounts[req.Email]
		if !ok || !users.CheckPasswordHash(req.Password, acc.passwordHash) {
			writeJSONError(w, "invalid email or password", http.StatusUnauthorized)
			return
		}

		tokens, err := s.issueLocked(acc.user.ID, s.accessTTL)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		user := acc.user
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: authData{Tokens: tokens, User: &user}})
	}
}

// RefreshHandler rotates a refresh token: the presented one stops working
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)

		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			writeJSONError(w, "refresh_token is required", http.StatusBadRequest)
			return
		}

		s.lock.RLock()
		delay := s.refreshDelay
		s.lock.RUnlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		s.lock.Lock()
		defer s.lock.Unlock()
		userID, ok := s.refreshTokens[req.RefreshToken]
		if !ok || s.rejectRefresh {
			writeJSONError(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		delete(s.refreshTokens, req.RefreshToken)

		tokens, err := s.issueLocked(userID, s.accessTTL)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: authData{Tokens: tokens}})
	}
}

// LogoutHandler revokes the presented refresh token
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		s.lock.Lock()
		delete(s.refreshTokens, req.RefreshToken)
		s.lock.Unlock()

		writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{"message": "logged out"}})
	}
}

// MeHandler returns the account behind the access token
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc := s.accountBySubject(subjectFrom(r.Context()))
		if acc == nil {
			writeJSONError(w, "user not found", http.StatusNotFound)
			return
		}
		s.lock.RLock()
		user := acc.user
		s.lock.RUnlock()
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{"user": &user}})
	}
}

func (s *Server) accountBySubject(subject string) *account {
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return nil
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	for _, acc := range s.accounts {
		if acc.user.ID == id {
			return acc
		}
	}
	return nil
}

// UpdateProfileHandler applies the fields present in the body and returns the user
func (s *Server) UpdateProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req profileUpdate
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Password != req.PasswordConfirm {
			writeJSONError(w, "passwords do not match", http.StatusUnprocessableEntity)
			return
		}
		var hash string
		if req.Password != "" {
			if err := users.ValidatePasswordStrength(req.Password); err != nil {
				writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			var err error
			if hash, err = users.HashPassword(req.Password); err != nil {
				writeJSONError(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		acc := s.accountBySubject(subjectFrom(r.Context()))
		if acc == nil {
			writeJSONError(w, "user not found", http.StatusNotFound)
			return
		}

		s.lock.Lock()
		if req.FirstName != nil {
			acc.user.FirstName = *req.FirstName
		}
		if req.LastName != nil {
			acc.user.LastName = *req.LastName
		}
		if req.Phone != nil {
			acc.user.Phone = *req.Phone
		}
		if hash != "" {
			acc.passwordHash = hash
		}
		user := acc.user
		s.lock.Unlock()

		writeJSON(w, http.StatusOK, envelope{Success: true, Data: &user})
	}
}

// EchoHandler reflects the request back, for any method
func (s *Server) EchoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		writeJSON(w, http.StatusOK, EchoResponse{
			Method:    r.Method,
			Path:      r.URL.Path,
			Body:      string(body),
			Subject:   subjectFrom(r.Context()),
			RequestID: r.Header.Get("X-Request-ID"),
		})
	}
}

// StatusHandler answers with the status in the path. A "message" query parameter becomes the
// error body; "raw" sends a plain text body instead of JSON.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.PathValue("code"))
		if err != nil || code < 100 || code > 599 {
			writeJSONError(w, fmt.Sprintf("bad status %q", r.PathValue("code")), http.StatusBadRequest)
			return
		}
		if r.URL.Query().Has("raw") {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(code)
			_, _ = io.WriteString(w, strings.Repeat("x", 8))
			return
		}
		if code < 400 {
			writeJSON(w, code, envelope{Success: true})
			return
		}
		writeJSONError(w, r.URL.Query().Get("message"), code)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}
