package credentials

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// KeyWriter is stored next to the credentials by backends that share one document between
// processes. It holds the stamp of the write that produced the current contents.
const KeyWriter = "_writer"

// WriteLog stamps the writes of one backend handle so its watcher can tell them apart from
// writes made by any other handle, even when both produce identical contents.
type WriteLog struct {
	origin string
	seq    atomic.Uint64
	last   atomic.Pointer[ownWrite]
}

type ownWrite struct {
	stamp  string
	before map[string]string
}

func NewWriteLog() *WriteLog {
	return &WriteLog{origin: uuid.NewString()}
}

// Stamp records a write that is about to replace before and returns the value to store
// under KeyWriter in the same atomic write. Callers serialize their writes.
func (w *WriteLog) Stamp(before map[string]string) string {
	stamp := w.origin + ":" + strconv.FormatUint(w.seq.Add(1), 10)
	prev := make(map[string]string, len(before))
	for k, v := range before {
		prev[k] = v
	}
	w.last.Store(&ownWrite{stamp: stamp, before: prev})
	return stamp
}

// Changes returns the keys a watcher should report when the stored contents move from
// seen to doc. For the document of this handle's latest write, only the changes other
// writers made before that write are reported.
func (w *WriteLog) Changes(seen, doc map[string]string) []string {
	stamp := doc[KeyWriter]
	if !strings.HasPrefix(stamp, w.origin+":") {
		return ChangedKeys(seen, doc)
	}
	if own := w.last.Load(); own != nil && own.stamp == stamp {
		return ChangedKeys(seen, own.before)
	}
	// an older write of ours, superseded before it was observed; its before state is gone
	return ChangedKeys(seen, doc)
}

// ChangedKeys lists the credential keys whose presence or value differs
func ChangedKeys(before, after map[string]string) []string {
	var keys []string
	for _, k := range Keys {
		b, bok := before[k]
		a, aok := after[k]
		if bok != aok || a != b {
			keys = append(keys, k)
		}
	}
	return keys
}
