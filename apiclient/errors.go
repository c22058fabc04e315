package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

// Kind classifies a rejected request
type Kind string

const (
	KindBadRequest   Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindValidation   Kind = "validation"
	KindRateLimited  Kind = "rate_limited"
	KindServerError  Kind = "server_error"
	KindUnavailable  Kind = "unavailable"
	KindUnknown      Kind = "unknown"
)

// RequestError is a non-success response from the API. It is never retried.
type RequestError struct {
	Status int
	Kind   Kind
	// Message is suitable for showing to a user
	Message string
	// ServerMessage is the message or error field of the response body, if any
	ServerMessage string
}

func (e *RequestError) Error() string {
	return e.Message
}

// Is supports errors.Is(err, ErrRequestRejected), and ErrInvalidCredentials for 401s
func (e *RequestError) Is(target error) bool {
	if target == autherrors.ErrRequestRejected {
		return true
	}
	return target == autherrors.ErrInvalidCredentials && e.Kind == KindUnauthorized
}

// NetworkError means no response was received
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", autherrors.ErrNetwork, e.Cause)
	}
	return autherrors.ErrNetwork.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, ErrNetwork)
func (e *NetworkError) Is(target error) bool {
	return target == autherrors.ErrNetwork
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// classify maps a status to a RequestError. Known statuses get a fixed message; anything else
// uses the server's message when it sent one.
func classify(status int, body []byte) *RequestError {
	var parsed errorBody
	_ = json.Unmarshal(body, &parsed)
	serverMessage := strings.TrimSpace(parsed.Message)
	if serverMessage == "" {
		serverMessage = strings.TrimSpace(parsed.Error)
	}

	e := &RequestError{Status: status, ServerMessage: serverMessage}
	switch status {
	case http.StatusBadRequest:
		e.Kind, e.Message = KindBadRequest, "invalid request data"
	case http.StatusUnauthorized:
		e.Kind, e.Message = KindUnauthorized, autherrors.ErrInvalidCredentials.Error()
	case http.StatusForbidden:
		e.Kind, e.Message = KindForbidden, "access denied"
	case http.StatusNotFound:
		e.Kind, e.Message = KindNotFound, "resource not found"
	case http.StatusUnprocessableEntity:
		e.Kind, e.Message = KindValidation, "data validation failed"
	case http.StatusTooManyRequests:
		e.Kind, e.Message = KindRateLimited, "too many requests, please try again later"
	case http.StatusInternalServerError:
		e.Kind, e.Message = KindServerError, "internal server error"
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		e.Kind, e.Message = KindUnavailable, "server temporarily unavailable, please try again later"
	default:
		e.Kind = KindUnknown
		e.Message = serverMessage
		if e.Message == "" {
			e.Message = fmt.Sprintf("request failed with status %d", status)
		}
	}
	return e
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}
