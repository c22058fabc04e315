package redisstore_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/credentials/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := redisstore.New(client, redisstore.WithPrefix("u42"), redisstore.WithLogger(zerolog.Nop()))

	_, found, err := s.Get(ctx, credentials.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SetMany(ctx, map[string]string{
		credentials.KeyAccessToken:  "A1",
		credentials.KeyRefreshToken: "R1",
	}))
	require.True(t, mr.Exists("u42:access_token"))
	require.True(t, mr.Exists("u42:refresh_token"))

	v, found, err := s.Get(ctx, credentials.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "A1", v)

	vals, err := s.GetMany(ctx, credentials.KeyAccessToken, credentials.KeyRefreshToken, credentials.KeyUser)
	require.NoError(t, err)
	require.Equal(t, map[string]string{credentials.KeyAccessToken: "A1", credentials.KeyRefreshToken: "R1"}, vals)

	require.NoError(t, s.Delete(ctx, credentials.KeyAccessToken, credentials.KeyRefreshToken))
	require.False(t, mr.Exists("u42:access_token"))
	require.False(t, mr.Exists("u42:refresh_token"))
}

func TestRedisStore_BackendFailure(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := credentials.NewStore(redisstore.New(client, redisstore.WithLogger(zerolog.Nop())), credentials.WithLogger(zerolog.Nop()))

	mr.Close()
	require.Error(t, s.SetTokens(ctx, "A1", "R1"))
	_, err := s.Tokens(ctx)
	require.Error(t, err)
}

func TestRedisStore_WatchReportsOtherOriginsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, client := newTestRedis(t)
	mine := redisstore.New(client, redisstore.WithLogger(zerolog.Nop()))
	other := redisstore.New(client, redisstore.WithLogger(zerolog.Nop()))

	var external atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mine.Watch(ctx, func(key string) {
			if key == credentials.KeyRefreshToken {
				external.Add(1)
			}
		})
	}()

	n := 0
	require.Eventually(t, func() bool {
		n++
		require.NoError(t, other.SetMany(ctx, map[string]string{credentials.KeyRefreshToken: fmt.Sprintf("R%d", n)}))
		return external.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	external.Store(0)

	require.NoError(t, mine.SetMany(ctx, map[string]string{credentials.KeyRefreshToken: "mine"}))
	require.NoError(t, mine.Delete(ctx, credentials.KeyRefreshToken))
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(0), external.Load())

	cancel()
	<-done
}
