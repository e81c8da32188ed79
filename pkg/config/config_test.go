package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigCreatesConfigFile(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("CONFIG_DIR", dir)
	defer os.Unsetenv("CONFIG_DIR")

	cfg, err := NewConfig("director", "v1", "abc", "2026-01-01", false)
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yml"), cfg.ConfigFilename())
	assert.Equal(t, 8900, cfg.UserConfig.Ports.Start)
	assert.Equal(t, 8999, cfg.UserConfig.Ports.End)
	assert.Equal(t, 6, cfg.UserConfig.Grid.Cols)

	_, err = os.Stat(cfg.ConfigFilename())
	assert.NoError(t, err)
}

func TestLoadUserConfigMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, "config.yml")
	assert.NoError(t, os.WriteFile(fileName, []byte("ports:\n  start: 9500\n  end: 9600\n"), 0o644))

	base := DefaultConfig()
	merged, err := loadUserConfig(dir, &base)
	assert.NoError(t, err)
	assert.Equal(t, 9500, merged.Ports.Start)
	assert.Equal(t, 9600, merged.Ports.End)
	// untouched defaults survive the merge
	assert.Equal(t, 6, merged.Grid.Cols)
}
