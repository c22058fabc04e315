package broadcast_test

import (
	"sync"
	"testing"

	"github.com/jrsteele09/go-auth-session/broadcast"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestHub_NotifyInSubscriptionOrder(t *testing.T) {
	hub := broadcast.NewHub(broadcast.WithLogger(zerolog.Nop()))

	var calls []string
	hub.Subscribe(func() { calls = append(calls, "first") })
	hub.Subscribe(func() { calls = append(calls, "second") })

	hub.Notify()
	require.Equal(t, []string{"first", "second"}, calls)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := broadcast.NewHub(broadcast.WithLogger(zerolog.Nop()))

	count := 0
	unsubscribe := hub.Subscribe(func() { count++ })
	other := hub.Subscribe(func() {})
	require.Equal(t, 2, hub.Len())

	unsubscribe()
	unsubscribe()
	require.Equal(t, 1, hub.Len())

	hub.Notify()
	require.Zero(t, count)

	other()
	require.Zero(t, hub.Len())
}

func TestHub_PanickingListenerDoesNotStopOthers(t *testing.T) {
	hub := broadcast.NewHub(broadcast.WithLogger(zerolog.Nop()))

	reached := false
	hub.Subscribe(func() { panic("boom") })
	hub.Subscribe(func() { reached = true })

	require.NotPanics(t, hub.Notify)
	require.True(t, reached)
}

func TestHub_ListenerMayUnsubscribeDuringNotify(t *testing.T) {
	hub := broadcast.NewHub(broadcast.WithLogger(zerolog.Nop()))

	var unsubscribe func()
	count := 0
	unsubscribe = hub.Subscribe(func() {
		count++
		unsubscribe()
	})

	hub.Notify()
	hub.Notify()
	require.Equal(t, 1, count)
}

func TestHub_ConcurrentUse(t *testing.T) {
	hub := broadcast.NewHub(broadcast.WithLogger(zerolog.Nop()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsubscribe := hub.Subscribe(func() {})
			unsubscribe()
		}()
		go func() {
			defer wg.Done()
			hub.Notify()
		}()
	}
	wg.Wait()
	require.Zero(t, hub.Len())
}

func TestHub_NilNotify(t *testing.T) {
	var hub *broadcast.Hub
	require.NotPanics(t, hub.Notify)
}
