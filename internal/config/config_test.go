package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	require.NoError(t, m.Load())

	_, err := os.Stat(filepath.Join(dir, "config.json"))
	require.NoError(t, err, "default config should be written")

	cfg := m.Get()
	assert.Equal(t, 0.5, cfg.Audio.DefaultVolume)
	assert.Equal(t, 2*time.Second, cfg.Behavior.ErrorSkipDelay.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Effects.RetuneInterval.Std())
	assert.False(t, cfg.Behavior.WrapAround)
}

func TestLoadMergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := `{"behavior": {"wrapAround": true, "errorSkipDelay": "750ms"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(partial), 0600))

	m := NewManager(dir)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.True(t, cfg.Behavior.WrapAround)
	assert.Equal(t, 750*time.Millisecond, cfg.Behavior.ErrorSkipDelay.Std())
	assert.Equal(t, ".mp3", cfg.Audio.Extension)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{nope"), 0600))

	assert.Error(t, NewManager(dir).Load())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GROOVED_STORAGE", "redis")
	t.Setenv("GROOVED_REDIS_DB", "3")
	t.Setenv("GROOVED_WRAP_AROUND", "true")

	m := NewManager(t.TempDir())
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Storage.RedisDB)
	assert.True(t, cfg.Behavior.WrapAround)
}

func TestPageByName(t *testing.T) {
	cfg := DefaultConfig()

	p, ok := cfg.PageByName("happy")
	require.True(t, ok)
	assert.Equal(t, "happy123", p.MediaDir)

	_, ok = cfg.PageByName("missing")
	assert.False(t, ok)
}
