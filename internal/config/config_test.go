package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, root, body string) string {
	t.Helper()
	dir := filepath.Join(root, Dir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(dbPathEnv, "")
	t.Setenv(llmAPIKeyEnv, "")
	root := t.TempDir()

	cfg, err := Load("", root)
	require.NoError(t, err)
	require.Empty(t, cfg.Source())
	require.Equal(t, filepath.Join(root, Dir, "po.db"), cfg.Database.Path)
	require.Equal(t, 15*time.Second, cfg.Scheduler.Tick)
	require.Equal(t, 24*time.Hour, cfg.Engine.ReplyETA)
	require.False(t, cfg.LLM.Enabled())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(financeEmailEnv, "")
	t.Setenv(dbPathEnv, "")
	root := t.TempDir()
	path := writeConfig(t, root, `
database:
  path: data/po.db
routing:
  financeEmail: finance@denicx.com
  internalDomains: [denicx.com, denicx.de]
scheduler:
  tick: 5s
cache:
  thread: 2m
`)

	cfg, err := Load("", root)
	require.NoError(t, err)
	require.Equal(t, path, cfg.Source())
	require.Equal(t, filepath.Join(root, "data", "po.db"), cfg.Database.Path)
	require.Equal(t, "finance@denicx.com", cfg.Routing.FinanceEmail)
	require.Equal(t, []string{"denicx.com", "denicx.de"}, cfg.Routing.InternalDomains)
	require.Equal(t, 5*time.Second, cfg.Scheduler.Tick)
	require.Equal(t, 2*time.Minute, cfg.Cache.Thread)

	// Untouched sections keep their defaults.
	require.Equal(t, 60*time.Second, cfg.Scheduler.SystemCheckEvery)
	require.Equal(t, 30*time.Second, cfg.Cache.PO)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv(configPathEnv, "")
	root := t.TempDir()
	writeConfig(t, root, "routing:\n  financeEmail: file@denicx.com\n")

	t.Setenv(financeEmailEnv, "env@denicx.com")
	t.Setenv(llmAPIKeyEnv, "test-key")
	t.Setenv(logLevelEnv, "debug")

	cfg, err := Load("", root)
	require.NoError(t, err)
	require.Equal(t, "env@denicx.com", cfg.Routing.FinanceEmail)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.LLM.Enabled())
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), t.TempDir())
	require.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(logLevelEnv, "")
	root := t.TempDir()
	writeConfig(t, root, "scheduler:\n  tick: 0s\nlogging:\n  level: loud\n")

	_, err := Load("", root)
	require.ErrorContains(t, err, "scheduler.tick")
	require.ErrorContains(t, err, "logging.level")
}

func TestStarterParses(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(rulesPathEnv, "")
	root := t.TempDir()
	writeConfig(t, root, Starter)

	cfg, err := Load("", root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, Dir, "rules.yaml"), cfg.Rules.Path)
	require.Equal(t, 180*time.Second, cfg.Scheduler.RateLimitBackoff)
}
