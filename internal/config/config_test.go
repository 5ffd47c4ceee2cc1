package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Defaults().Sandbox.Image, cfg.Sandbox.Image)
	assert.Equal(t, 7, cfg.Review.MinSecurityScore)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forge.yaml"), []byte(`
sandbox:
  image: "python:3.12-alpine"
review:
  min_security_score: 0
`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "python:3.12-alpine", cfg.Sandbox.Image)
	assert.Equal(t, Defaults().Sandbox.HostRoot, cfg.Sandbox.HostRoot)
	// mergo.WithOverride treats the YAML's explicit zero as "unset" for
	// non-pointer ints, so the built-in default of 7 survives. A zero gate
	// cannot be set elsewhere either: pipeline.Options also treats a
	// MinSecurityScore of 0 as "use the default".
	assert.Equal(t, 7, cfg.Review.MinSecurityScore)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FORGE_TEST_DSN", "postgres://example/forge")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forge.yaml"), []byte(`
store:
  driver: postgres
  dsn: "${FORGE_TEST_DSN}"
`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "postgres://example/forge", cfg.Store.DSN)
}

func TestValidateRejectsBadPortRange(t *testing.T) {
	cfg := Defaults()
	cfg.Sandbox.PortRangeLow = 100
	cfg.Sandbox.PortRangeHigh = 50
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DSN = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "sqlite"
	require.Error(t, cfg.Validate())
}
