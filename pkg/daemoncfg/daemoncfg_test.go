package daemoncfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, []string{"/etc/supervisor.d"}, cfg.ServiceDirs)
	require.Equal(t, "boot", cfg.BootService)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "127.0.0.1:9100", cfg.API.Address)
}

func TestLoadNoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "supervisor.yaml")
	contents := "log_level: debug\nboot_service: init\napi:\n  address: 0.0.0.0:9200\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "init", cfg.BootService)
	require.Equal(t, "0.0.0.0:9200", cfg.API.Address)
	require.Equal(t, []string{"/etc/supervisor.d"}, cfg.ServiceDirs)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
