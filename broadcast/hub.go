// Package broadcast announces "the session may have changed" to interested listeners.
// Notifications carry no payload; listeners re-read the credential store.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type listener struct {
	id int
	fn func()
}

// Hub is safe for concurrent use
type Hub struct {
	lock      sync.RWMutex
	listeners []listener
	nextID    int
	logger    zerolog.Logger
}

type HubOption func(*Hub)

func WithLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

func NewHub(options ...HubOption) *Hub {
	h := &Hub{logger: log.Logger}
	for _, opt := range options {
		opt(h)
	}
	h.logger = h.logger.With().Str("component", "broadcast").Logger()
	return h
}

// Subscribe registers fn and returns a function that removes it. Calling the returned
// function more than once has no further effect.
func (h *Hub) Subscribe(fn func()) (unsubscribe func()) {
	h.lock.Lock()
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, listener{id: id, fn: fn})
	h.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.lock.Lock()
			defer h.lock.Unlock()
			for i, l := range h.listeners {
				if l.id == id {
					h.listeners = append(h.listeners[:i:i], h.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Notify calls every listener in subscription order on the calling goroutine
func (h *Hub) Notify() {
	if h == nil {
		return
	}
	h.lock.RLock()
	snapshot := make([]listener, len(h.listeners))
	copy(snapshot, h.listeners)
	h.lock.RUnlock()

	for _, l := range snapshot {
		h.call(l)
	}
}

// Len returns the number of subscribed listeners
func (h *Hub) Len() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.listeners)
}

func (h *Hub) call(l listener) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Int("listener", l.id).Msg("session listener panicked")
		}
	}()
	l.fn()
}
