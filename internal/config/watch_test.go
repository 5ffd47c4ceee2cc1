package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("review:\n  max_review_iterations: 2\n"), 0o644))

	reloaded := make(chan *Config, 4)
	w, err := Watch(dir, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("review:\n  max_review_iterations: 7\n"), 0o644))

	assert.Eventually(t, func() bool {
		select {
		case cfg := <-reloaded:
			return cfg.Review.MaxReviewIterations == 7
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatchKeepsPreviousConfigOnInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("review:\n  max_review_iterations: 2\n"), 0o644))

	reloaded := make(chan *Config, 4)
	w, err := Watch(dir, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("review: [this is not valid\n"), 0o644))

	time.Sleep(500 * time.Millisecond)
	select {
	case <-reloaded:
		t.Fatal("onReload should not fire for a file that fails to parse")
	default:
	}
}
