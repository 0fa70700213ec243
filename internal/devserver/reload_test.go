package devserver

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestReloader_publish(t *testing.T) {
	r := NewReloader(zerolog.Nop())

	a, releaseA, err := r.Subscribe()
	require.NoError(t, err)
	b, releaseB, err := r.Subscribe()
	require.NoError(t, err)
	require.Equal(t, 2, r.Clients())

	ev := NewEvent("build-1", []string{"style/bundle.css"})
	require.Equal(t, 2, r.Publish(context.Background(), ev))
	require.Equal(t, ev, <-a)
	require.Equal(t, ev, <-b)

	releaseA()
	releaseA()
	require.Equal(t, 1, r.Clients())
	_, ok := <-a
	require.False(t, ok)

	require.Equal(t, 1, r.Publish(context.Background(), ev))
	releaseB()
}

func TestReloader_dropsForSlowClients(t *testing.T) {
	r := NewReloader(zerolog.Nop())
	_, release, err := r.Subscribe()
	require.NoError(t, err)
	defer release()

	for range 8 {
		require.Equal(t, 1, r.Publish(context.Background(), Event{BuildID: "x"}))
	}
	require.Equal(t, 0, r.Publish(context.Background(), Event{BuildID: "y"}))
}

func TestReloader_close(t *testing.T) {
	r := NewReloader(zerolog.Nop())
	ch, release, err := r.Subscribe()
	require.NoError(t, err)

	r.Close()
	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, 0, r.Clients())

	// releasing after close is a no-op
	release()

	_, _, err = r.Subscribe()
	require.ErrorContains(t, err, "reloader is closed")
}
