package sqlitestore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/credentials/sqlitestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(context.Background(), path,
		sqlitestore.WithLogger(zerolog.Nop()),
		sqlitestore.WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "credentials.db"))

	require.NoError(t, s.SetMany(ctx, map[string]string{
		credentials.KeyAccessToken:  "A1",
		credentials.KeyRefreshToken: "R1",
	}))
	require.NoError(t, s.SetMany(ctx, map[string]string{credentials.KeyAccessToken: "A2"}))

	v, found, err := s.Get(ctx, credentials.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "A2", v)

	vals, err := s.GetMany(ctx, credentials.KeyAccessToken, credentials.KeyRefreshToken, credentials.KeyUser)
	require.NoError(t, err)
	require.Equal(t, map[string]string{credentials.KeyAccessToken: "A2", credentials.KeyRefreshToken: "R1"}, vals)

	require.NoError(t, s.Delete(ctx, credentials.KeyAccessToken, credentials.KeyRefreshToken))
	_, found, err = s.Get(ctx, credentials.KeyRefreshToken)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSQLiteStore_SharedBetweenHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.db")

	first := credentials.NewStore(openStore(t, path), credentials.WithLogger(zerolog.Nop()))
	second := credentials.NewStore(openStore(t, path), credentials.WithLogger(zerolog.Nop()))

	require.NoError(t, first.SetTokens(ctx, "A1", "R1"))
	tokens, err := second.Tokens(ctx)
	require.NoError(t, err)
	require.Equal(t, "R1", tokens.RefreshToken)

	require.NoError(t, second.Clear(ctx))
	ok, err := first.Authenticated(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteStore_WatchReportsOtherHandlesOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "credentials.db")
	mine := openStore(t, path)
	other := openStore(t, path)

	var external atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mine.Watch(ctx, func(key string) {
			if key == credentials.KeyAccessToken {
				external.Add(1)
			}
		})
	}()

	n := 0
	require.Eventually(t, func() bool {
		n++
		require.NoError(t, other.SetMany(ctx, map[string]string{credentials.KeyAccessToken: fmt.Sprintf("A%d", n)}))
		return external.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	external.Store(0)

	require.NoError(t, mine.SetMany(ctx, map[string]string{credentials.KeyAccessToken: "mine"}))
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(0), external.Load())

	cancel()
	<-done
}

func TestSQLiteStore_WatchReportsRepeatedLogoutFromOtherHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "credentials.db")
	mine := openStore(t, path)
	other := openStore(t, path)
	require.NoError(t, mine.Delete(ctx, credentials.Keys...))

	var changes atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mine.Watch(ctx, func(key string) {
			if key == credentials.KeyAccessToken {
				changes.Add(1)
			}
		})
	}()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, other.SetMany(ctx, map[string]string{
		credentials.KeyAccessToken:  "A1",
		credentials.KeyRefreshToken: "R1",
	}))
	require.Eventually(t, func() bool { return changes.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, other.Delete(ctx, credentials.Keys...))
	require.Eventually(t, func() bool { return changes.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
