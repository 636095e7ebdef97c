package taktconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvKeyNormalization(t *testing.T) {
	require.Equal(t, "TAKT_BASE_BRANCH", EnvKey("baseBranch"))
	require.Equal(t, "TAKT_PROVIDER_OPTIONS_CODEX_NETWORK_ACCESS", EnvKey("provider_options.codex.network_access"))
	require.Equal(t, "TAKT_CONCURRENCY", EnvKey("concurrency"))
}

func TestResolverMergesLayersWithEnvHighestPrecedence(t *testing.T) {
	projectDir := t.TempDir()
	takeDir := filepath.Join(projectDir, ".takt")
	require.NoError(t, os.MkdirAll(takeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(takeDir, "config.yaml"), []byte("base_branch: develop\nconcurrency: 3\n"), 0o644))

	r := NewResolver(projectDir)
	r.GlobalDir = t.TempDir()
	r.Lookup = func(key string) (string, bool) {
		if key == "TAKT_CONCURRENCY" {
			return "5", true
		}
		return "", false
	}

	cfg, err := r.Resolve()
	require.NoError(t, err)
	require.Equal(t, "develop", cfg.BaseBranch, "project layer overrides defaults")
	require.Equal(t, 5, cfg.Concurrency, "env overrides project")
	require.Equal(t, "en", cfg.Language, "defaults fill in untouched fields")
}

func TestResolverValidatesConcurrencyRange(t *testing.T) {
	projectDir := t.TempDir()
	r := NewResolver(projectDir)
	r.GlobalDir = t.TempDir()
	r.Lookup = func(key string) (string, bool) {
		if key == "TAKT_CONCURRENCY" {
			return "99", true
		}
		return "", false
	}

	_, err := r.Resolve()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestResolverCachesUntilInvalidated(t *testing.T) {
	projectDir := t.TempDir()
	r := NewResolver(projectDir)
	r.GlobalDir = t.TempDir()
	r.Lookup = func(string) (string, bool) { return "", false }

	first, err := r.Resolve()
	require.NoError(t, err)

	takeDir := filepath.Join(projectDir, ".takt")
	require.NoError(t, os.MkdirAll(takeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(takeDir, "config.yaml"), []byte("base_branch: changed\n"), 0o644))

	second, err := r.Resolve()
	require.NoError(t, err)
	require.Equal(t, first.BaseBranch, second.BaseBranch, "cached value is reused before Invalidate")

	r.Invalidate()
	third, err := r.Resolve()
	require.NoError(t, err)
	require.Equal(t, "changed", third.BaseBranch)
}
