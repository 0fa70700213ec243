package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setupTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	for _, dir := range []string{"src", "dist", "node_modules/lib"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "index.js"), []byte("a"), 0o600))
	return root
}

func runWatcher(t *testing.T, opts Options) <-chan []string {
	t.Helper()

	w, err := New(opts, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []string, 10)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, paths []string) {
			batches <- paths
		})
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return batches
}

func TestWatcher_pollAggregatesChanges(t *testing.T) {
	root := setupTree(t)
	batches := runWatcher(t, Options{
		Root:             root,
		Skip:             []string{"dist", "node_modules"},
		AggregateTimeout: 100 * time.Millisecond,
		Poll:             true,
		PollInterval:     20 * time.Millisecond,
	})

	// let the watcher take its first snapshot
	time.Sleep(50 * time.Millisecond)

	index := filepath.Join(root, "src", "index.js")
	added := filepath.Join(root, "src", "app.jsx")
	require.NoError(t, os.WriteFile(index, []byte("changed"), 0o600))
	require.NoError(t, os.WriteFile(added, []byte("new"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "bundle.js"), []byte("out"), 0o600))

	select {
	case paths := <-batches:
		require.Equal(t, []string{added, index}, paths)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for changes")
	}
}

func TestWatcher_pollReportsRemovals(t *testing.T) {
	root := setupTree(t)
	batches := runWatcher(t, Options{
		Root:             root,
		AggregateTimeout: 50 * time.Millisecond,
		Poll:             true,
		PollInterval:     20 * time.Millisecond,
	})

	time.Sleep(50 * time.Millisecond)

	index := filepath.Join(root, "src", "index.js")
	require.NoError(t, os.Remove(index))

	select {
	case paths := <-batches:
		require.Equal(t, []string{index}, paths)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for changes")
	}
}

func TestWatcher_native(t *testing.T) {
	root := setupTree(t)
	batches := runWatcher(t, Options{
		Root:             root,
		Skip:             []string{"dist", "node_modules"},
		AggregateTimeout: 100 * time.Millisecond,
	})

	time.Sleep(100 * time.Millisecond)

	index := filepath.Join(root, "src", "index.js")
	require.NoError(t, os.WriteFile(index, []byte("changed"), 0o600))

	select {
	case paths := <-batches:
		require.Contains(t, paths, index)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for changes")
	}
}

func TestNew_rejectsMissingRoot(t *testing.T) {
	_, err := New(Options{Root: filepath.Join(t.TempDir(), "missing")}, zerolog.Nop())
	require.ErrorContains(t, err, "failed to stat watch root")
}

func TestIgnoredPath(t *testing.T) {
	w := &Watcher{opts: Options{Root: "/app", Skip: []string{"dist", "node_modules"}}}

	require.True(t, w.ignoredPath("/app/dist/js/bundle.js"))
	require.True(t, w.ignoredPath("/app/dist"))
	require.True(t, w.ignoredPath("/app/node_modules/react/index.js"))
	require.False(t, w.ignoredPath("/app/src/index.js"))
	require.False(t, w.ignoredPath("/app/src/distance.js"))
}

func TestDiff(t *testing.T) {
	now := time.Now()
	prev := map[string]fileState{
		"a": {size: 1, modTime: now},
		"b": {size: 1, modTime: now},
		"c": {size: 1, modTime: now},
	}
	next := map[string]fileState{
		"a": {size: 1, modTime: now},
		"b": {size: 2, modTime: now},
		"d": {size: 1, modTime: now},
	}

	require.Equal(t, []string{"b", "c", "d"}, diff(prev, next))
}
