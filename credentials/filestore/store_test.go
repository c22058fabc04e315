package filestore_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/credentials/filestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T, path string) *filestore.Store {
	t.Helper()
	s, err := filestore.New(path, filestore.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return s
}

func TestFileStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	s := newFileStore(t, path)

	_, found, err := s.Get(ctx, credentials.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SetMany(ctx, map[string]string{
		credentials.KeyAccessToken:  "A1",
		credentials.KeyRefreshToken: "R1",
	}))

	v, found, err := s.Get(ctx, credentials.KeyRefreshToken)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "R1", v)

	vals, err := s.GetMany(ctx, credentials.KeyAccessToken, credentials.KeyRefreshToken, credentials.KeyUser)
	require.NoError(t, err)
	require.Equal(t, map[string]string{credentials.KeyAccessToken: "A1", credentials.KeyRefreshToken: "R1"}, vals)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.Delete(ctx, credentials.KeyAccessToken, credentials.KeyRefreshToken, "missing"))
	_, found, err = s.Get(ctx, credentials.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, found)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	first := credentials.NewStore(newFileStore(t, path), credentials.WithLogger(zerolog.Nop()))
	require.NoError(t, first.SetTokens(ctx, "A1", "R1"))

	second := credentials.NewStore(newFileStore(t, path), credentials.WithLogger(zerolog.Nop()))
	tokens, err := second.Tokens(ctx)
	require.NoError(t, err)
	require.Equal(t, credentials.Tokens{AccessToken: "A1", RefreshToken: "R1"}, tokens)
}

func TestFileStore_CorruptFileReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o600))

	s := newFileStore(t, path)
	_, found, err := s.Get(ctx, credentials.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SetMany(ctx, map[string]string{credentials.KeyUser: `{"id":1}`}))
	v, found, err := s.Get(ctx, credentials.KeyUser)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `{"id":1}`, v)
}

func TestFileStore_ConcurrentWritersKeepPairsWhole(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")
	a := newFileStore(t, path)
	b := newFileStore(t, path)

	var wg sync.WaitGroup
	for i, s := range []*filestore.Store{a, b} {
		wg.Add(1)
		go func(i int, s *filestore.Store) {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				id := fmt.Sprintf("%d-%d", i, n)
				require.NoError(t, s.SetMany(ctx, map[string]string{
					credentials.KeyAccessToken:  "A" + id,
					credentials.KeyRefreshToken: "R" + id,
				}))
			}
		}(i, s)
	}
	wg.Wait()

	access, _, err := a.Get(ctx, credentials.KeyAccessToken)
	require.NoError(t, err)
	refresh, _, err := a.Get(ctx, credentials.KeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, access[1:], refresh[1:])
}

func TestFileStore_WatchReportsOtherWritersOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "credentials.json")
	mine := newFileStore(t, path)
	other := newFileStore(t, path)

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
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(0), external.Load())

	cancel()
	<-done
}

func TestFileStore_WatchReportsRepeatedLogoutFromOtherWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "credentials.json")
	mine := newFileStore(t, path)
	other := newFileStore(t, path)
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
	// the watcher has no readiness signal; give it time to register
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, other.SetMany(ctx, map[string]string{
		credentials.KeyAccessToken:  "A1",
		credentials.KeyRefreshToken: "R1",
	}))
	require.Eventually(t, func() bool { return changes.Load() == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, other.Delete(ctx, credentials.Keys...))
	require.Eventually(t, func() bool { return changes.Load() == 2 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
