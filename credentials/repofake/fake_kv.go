package credentialsrepofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-session/credentials"
)

var (
	_ credentials.KV      = (*FakeKV)(nil)
	_ credentials.Watcher = (*FakeKV)(nil)
)

// FakeKV is an in-memory KV. Writes made through Peer handles are reported to
// watchers as external changes, the way another process's writes would be.
type FakeKV struct {
	shared *fakeState
	origin int
}

type fakeState struct {
	lock     sync.RWMutex
	values   map[string]string
	watchers map[int][]chan string
	next     int
	writes   int
}

func NewFakeKV() *FakeKV {
	return &FakeKV{shared: &fakeState{
		values:   make(map[string]string),
		watchers: make(map[int][]chan string),
	}}
}

// Peer returns a handle on the same data acting as a different process
func (kv *FakeKV) Peer() *FakeKV {
	kv.shared.lock.Lock()
	defer kv.shared.lock.Unlock()
	kv.shared.next++
	return &FakeKV{shared: kv.shared, origin: kv.shared.next}
}

func (kv *FakeKV) Get(_ context.Context, key string) (string, bool, error) {
	kv.shared.lock.RLock()
	defer kv.shared.lock.RUnlock()
	v, ok := kv.shared.values[key]
	return v, ok, nil
}

func (kv *FakeKV) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	kv.shared.lock.RLock()
	defer kv.shared.lock.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := kv.shared.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (kv *FakeKV) SetMany(_ context.Context, values map[string]string) error {
	kv.shared.lock.Lock()
	defer kv.shared.lock.Unlock()
	for k, v := range values {
		kv.shared.values[k] = v
	}
	kv.shared.writes++
	kv.notifyLocked(keysOf(values))
	return nil
}

func (kv *FakeKV) Delete(_ context.Context, keys ...string) error {
	kv.shared.lock.Lock()
	defer kv.shared.lock.Unlock()
	for _, k := range keys {
		delete(kv.shared.values, k)
	}
	kv.shared.writes++
	kv.notifyLocked(keys)
	return nil
}

// Corrupt writes raw directly, bypassing any encoding, to simulate damaged storage
func (kv *FakeKV) Corrupt(key, raw string) {
	kv.shared.lock.Lock()
	defer kv.shared.lock.Unlock()
	kv.shared.values[key] = raw
}

// Writes returns the number of SetMany/Delete calls across all handles
func (kv *FakeKV) Writes() int {
	kv.shared.lock.RLock()
	defer kv.shared.lock.RUnlock()
	return kv.shared.writes
}

// Snapshot copies the current contents
func (kv *FakeKV) Snapshot() map[string]string {
	kv.shared.lock.RLock()
	defer kv.shared.lock.RUnlock()
	out := make(map[string]string, len(kv.shared.values))
	for k, v := range kv.shared.values {
		out[k] = v
	}
	return out
}

func (kv *FakeKV) Watch(ctx context.Context, onChange func(key string)) error {
	ch := make(chan string, 64)
	kv.shared.lock.Lock()
	kv.shared.watchers[kv.origin] = append(kv.shared.watchers[kv.origin], ch)
	kv.shared.lock.Unlock()

	defer func() {
		kv.shared.lock.Lock()
		defer kv.shared.lock.Unlock()
		list := kv.shared.watchers[kv.origin]
		for i, c := range list {
			if c == ch {
				kv.shared.watchers[kv.origin] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case key := <-ch:
			onChange(key)
		}
	}
}

// notifyLocked delivers keys to watchers of every other origin
func (kv *FakeKV) notifyLocked(keys []string) {
	for origin, list := range kv.shared.watchers {
		if origin == kv.origin {
			continue
		}
		for _, ch := range list {
			for _, k := range keys {
				select {
				case ch <- k:
				default:
				}
			}
		}
	}
}

func keysOf(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
