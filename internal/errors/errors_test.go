package errors_test

import (
	"io"
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, errors.Wrapf(nil, "context %d", 1))
	})

	t.Run("wraps with context", func(t *testing.T) {
		err := errors.Wrapf(errors.ErrRenewalFailed, "renew for %s", "user-1")
		require.EqualError(t, err, "renew for user-1: "+errors.ErrRenewalFailed.Error())
		require.True(t, errors.Is(err, errors.ErrRenewalFailed))
		require.False(t, errors.Is(err, io.EOF))
	})
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "status" }

func TestAs(t *testing.T) {
	err := errors.Wrapf(&statusError{code: 503}, "calling api")
	var target *statusError
	require.True(t, errors.As(err, &target))
	require.Equal(t, 503, target.code)
}
