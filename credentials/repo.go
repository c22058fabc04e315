package credentials

import "context"

// Keys under which the credentials are persisted. Every backend uses these names verbatim
// so a store written by one process is readable by any other.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// Keys lists every key the store owns
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// KV is the durable key-value medium behind a Store. It must survive process restarts
// and be visible to every other process of the same user.
type KV interface {
	// Get returns the value for key; found is false when the key is absent
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// GetMany reads keys from one consistent state; absent keys are left out of the result
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)

	// SetMany writes all values in one step; no reader may observe a partial write
	SetMany(ctx context.Context, values map[string]string) error

	// Delete removes all keys in one step; missing keys are not an error
	Delete(ctx context.Context, keys ...string) error
}

// Watcher is implemented by backends that can report writes made by other processes.
// Watch blocks until ctx is done, calling onChange with the key that changed.
type Watcher interface {
	Watch(ctx context.Context, onChange func(key string)) error
}
