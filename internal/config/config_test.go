package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigHasSaneDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "all", cfg.Engine.Cores)
	assert.Equal(t, "fast", cfg.Schedule.Strategy)
	assert.True(t, cfg.Schedule.Minimize)
	assert.Equal(t, 1337, cfg.Cluster.BrokerPort)
}

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corefuzz.yaml")
	yaml := "target:\n  harness: ./harness\nengine:\n  cores: \"0-3\"\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./harness", cfg.Target.Harness)
	assert.Equal(t, "0-3", cfg.Engine.Cores)
	assert.Equal(t, "fast", cfg.Schedule.Strategy) // untouched default survives
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/corefuzz.yaml")
	assert.Error(t, err)
}
