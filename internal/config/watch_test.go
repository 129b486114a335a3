package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startWatch runs the watcher in the background and returns once the
// directory watch is registered.
func startWatch(t *testing.T, path string) (<-chan *Config, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reloaded := make(chan *Config, 8)
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, path, func(cfg *Config) { reloaded <- cfg }, func() { close(ready) })
	}()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("watch exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher not ready")
	}
	return reloaded, cancel, done
}

func nextReload(t *testing.T, reloaded <-chan *Config) *Config {
	t.Helper()
	select {
	case cfg := <-reloaded:
		return cfg
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
		return nil
	}
}

func assertNoReload(t *testing.T, reloaded <-chan *Config) {
	t.Helper()
	select {
	case cfg := <-reloaded:
		t.Fatalf("unexpected reload with level %q", cfg.Logger.Level)
	case <-time.After(4 * reloadDebounce):
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: info\n"), 0644))

	reloaded, cancel, done := startWatch(t, path)

	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0644))
	assert.Equal(t, "debug", nextReload(t, reloaded).Logger.Level)
	assertNoReload(t, reloaded)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchIgnoresTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0644))

	reloaded, _, _ := startWatch(t, path)

	require.NoError(t, os.Truncate(path, 0))
	assertNoReload(t, reloaded)

	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: warn\n"), 0644))
	assert.Equal(t, "warn", nextReload(t, reloaded).Logger.Level)
}

func TestWatchFollowsAtomicSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: info\n"), 0644))

	reloaded, _, _ := startWatch(t, path)

	for _, level := range []string{"debug", "error"} {
		tmp := filepath.Join(dir, ".config.yaml.swp")
		require.NoError(t, os.WriteFile(tmp, []byte("logger:\n  level: "+level+"\n"), 0644))
		require.NoError(t, os.Rename(tmp, path))
		assert.Equal(t, level, nextReload(t, reloaded).Logger.Level)
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: info\n"), 0644))

	reloaded, _, _ := startWatch(t, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("logger:\n  level: debug\n"), 0644))
	assertNoReload(t, reloaded)
}

func TestWatchKeepsPreviousConfigOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: info\n"), 0644))

	reloaded, _, _ := startWatch(t, path)

	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: shouting\n"), 0644))
	assertNoReload(t, reloaded)
}

func TestWatchMissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), func(*Config) {})
	assert.Error(t, err)
}
