package config

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "rdbg", "config.yml"))

	assert.Empty(t, c.Aliases)
	assert.True(t, c.ASLRDisabled())
	assert.Equal(t, defaultMaxHistory, c.HistoryLimit())
	assert.Equal(t, filepath.Join(dir, "rdbg", "history"), c.History())
	sigs, err := c.Signals()
	require.NoError(t, err)
	assert.Nil(t, sigs)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rdbg"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rdbg", "config.yml"), []byte(`
aliases:
  stepi: ["n"]
history-file: /tmp/h
max-history: 10
pass-signals: ["17", "28"]
disable-aslr: false
`), 0600))

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"stepi": {"n"}}, c.Aliases)
	assert.Equal(t, "/tmp/h", c.History())
	assert.Equal(t, 10, c.HistoryLimit())
	assert.False(t, c.ASLRDisabled())
	sigs, err := c.Signals()
	require.NoError(t, err)
	assert.Equal(t, []syscall.Signal{syscall.Signal(17), syscall.Signal(28)}, sigs)
}

func TestLoadConfigMalformed(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rdbg"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rdbg", "config.yml"), []byte("aliases: [\n"), 0600))

	c, err := LoadConfig()
	assert.Error(t, err)
	assert.NotNil(t, c)
}

func TestSaveConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	_, err := LoadConfig()
	require.NoError(t, err)

	no := false
	require.NoError(t, SaveConfig(&Config{PassSignals: []string{"SIGCHLD"}, DisableASLR: &no}))
	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"SIGCHLD"}, c.PassSignals)
	assert.False(t, c.ASLRDisabled())
}

func TestUnknownSignal(t *testing.T) {
	c := &Config{PassSignals: []string{"SIGNOPE"}}
	_, err := c.Signals()
	assert.Error(t, err)
}
