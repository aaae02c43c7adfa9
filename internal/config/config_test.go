package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, ":6667", c.ListenAddr)
	assert.Equal(t, "info", c.LogLevel)
	assert.NotEmpty(t, c.StoreDSN)
	assert.NotEmpty(t, c.UploadDir)
	assert.Equal(t, int64(10*1024*1024), c.MaxUploadSize)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
}

func TestLoadOverridesOnlyProvidedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen_addr": ":9999", "log_level": "debug"}`), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", c.ListenAddr)
	assert.Equal(t, "debug", c.LogLevel)
	// untouched fields keep their defaults
	assert.Equal(t, DefaultConfig().StaticSiteAddr, c.StaticSiteAddr)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	c := DefaultConfig()
	c.ListenAddr = ":1234"
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":1234", loaded.ListenAddr)
}
