package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tarsy-labs/forge/internal/config"
)

func testSandboxConfig(t *testing.T) config.SandboxConfig {
	t.Helper()
	cfg := config.Defaults().Sandbox
	cfg.HostRoot = t.TempDir()
	return cfg
}

func TestContainerNameForIsNamespacedByProject(t *testing.T) {
	assert.Equal(t, "forge-sandbox-proj-a", containerNameFor("proj-a"))
	assert.NotEqual(t, containerNameFor("proj-a"), containerNameFor("proj-b"))
}

func TestTruncateTailKeepsSuffixWhenOverLimit(t *testing.T) {
	s := strings.Repeat("x", 100) + "END"
	got := truncateTail(s, 10)
	assert.Len(t, got, 10)
	assert.True(t, strings.HasSuffix(got, "END"))
}

func TestTruncateTailNoopUnderLimit(t *testing.T) {
	s := "short"
	assert.Equal(t, s, truncateTail(s, 100))
}

func TestIsLiveFalseWithoutRuntimeMetadata(t *testing.T) {
	h := New(testSandboxConfig(t))
	assert.False(t, h.IsLive(context.Background(), "unknown-project", time.Second))
}
