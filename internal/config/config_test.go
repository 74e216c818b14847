package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	v.SetConfigType("yaml")

	// A missing explicit file is an error, unlike a failed search.
	_, err := load(v)
	require.Error(t, err)

	v = viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(t.TempDir())

	cfg, err := load(v)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Node.Host)
	assert.Equal(t, 1600, cfg.Node.Port)
	assert.Equal(t, "localhost:1600", cfg.Address())
	assert.Equal(t, "plugins", cfg.Plugin.Path)
	assert.Equal(t, 4, cfg.Plugin.WasmPoolSize)
	assert.True(t, cfg.Plugin.AutoInstall)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.InDelta(t, 20.0, cfg.HTTP.RateLimit, 0.001)
	require.Len(t, cfg.Scheduler.Wake, 3)
	assert.Equal(t, WakeEntry{Event: "core.cleaner.wake", Spec: "@every 1m"}, cfg.Scheduler.Wake[0])
}

func TestLoadFileAndSecrets(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
node:
  port: 1700
plugin:
  path: /srv/plugins
database:
  driver: postgres
  dsn: postgres://file
log:
  level: debug
`), 0o644))

	t.Setenv("PLUGINHOST_DATABASE_DSN", "postgres://secret")
	t.Setenv("PLUGINHOST_ADMIN_TOKEN", "tok")
	t.Setenv("PLUGINHOST_HTTP_ADDR", ":9090")

	v := viper.New()
	v.SetConfigFile(file)

	cfg, err := load(v)
	require.NoError(t, err)
	assert.Equal(t, 1700, cfg.Node.Port)
	assert.Equal(t, "/srv/plugins", cfg.Plugin.Path)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://secret", cfg.Database.DSN)
	assert.Equal(t, "tok", cfg.Secrets.AdminToken)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestInitializeExplicitFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(file, []byte("node:\n  host: 0.0.0.0\n"), 0o644))

	require.NoError(t, Initialize(file))
	assert.Equal(t, "0.0.0.0", Get().Node.Host)
	assert.NotNil(t, GetViper())
}

func TestParseEnv(t *testing.T) {
	var target struct {
		Port int `env:"PLUGINHOST_TEST_PORT" envDefault:"123"`
	}
	require.NoError(t, ParseEnv(&target))
	assert.Equal(t, 123, target.Port)

	t.Setenv("PLUGINHOST_TEST_PORT", "nope")
	require.Error(t, ParseEnv(&target))
}

func TestRefreshPicksUpOverrides(t *testing.T) {
	file := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(file, []byte("plugin:\n  path: a\n"), 0o644))

	require.NoError(t, Initialize(file))
	assert.Equal(t, "a", Get().Plugin.Path)

	GetViper().Set("plugin.path", "b")
	require.NoError(t, Refresh())
	assert.Equal(t, "b", Get().Plugin.Path)
}
