package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/entsim/internal/core/config"
)

func withConfigPath(t *testing.T, path string) {
	t.Helper()
	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entities:\n  limit: 7\nengine:\n  workers: 3\n"), 0o600))
	withConfigPath(t, path)
	t.Setenv("ENTSIM_ENGINE_WORKERS", "5")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Entities.Limit)
	assert.Equal(t, 5, cfg.Engine.Workers, "environment wins over the file")
}

func TestLoadConfigValidates(t *testing.T) {
	withConfigPath(t, "")
	t.Setenv("ENTSIM_LOG_LEVEL", "loud")

	_, err := loadConfig()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestConfigCommandPrintsEffectiveConfig(t *testing.T) {
	withConfigPath(t, "")
	t.Setenv("ENTSIM_ENTITIES_LIMIT", "12")

	var out bytes.Buffer
	configCmd.SetOut(&out)
	t.Cleanup(func() { configCmd.SetOut(nil) })
	require.NoError(t, configCmd.RunE(configCmd, nil))

	got, err := config.Load(&out)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Entities.Limit)
	assert.Equal(t, config.Default().Engine.TickInterval, got.Engine.TickInterval)
}

func TestRunCommandFlags(t *testing.T) {
	for _, name := range []string{"entities", "heartbeat", "duration"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), name)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}
