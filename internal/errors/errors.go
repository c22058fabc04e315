package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session manager
var (
	// Session errors
	ErrNoSession     = errors.New("no session")
	ErrRenewalFailed = errors.New("session expired, please sign in again")
	ErrInvalidTokens = errors.New("access and refresh tokens must both be set")

	// Request errors
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrRequestRejected    = errors.New("request rejected")
	ErrNetwork            = errors.New("cannot reach the server, check your connection")
	ErrPasswordMismatch   = errors.New("passwords do not match")

	// Token errors
	ErrMalformedToken = errors.New("malformed token")

	// General errors
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
