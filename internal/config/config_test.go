package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 10*time.Second, cfg.Store.ConnectTimeout)
	assert.Equal(t, int32(4), cfg.Store.MaxConns)
	assert.Equal(t, 10, cfg.Engine.HorizonYears)
	assert.Equal(t, 1000, cfg.Engine.ScanLimit)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, time.Local, cfg.Engine.Location())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "taskinst.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: postgres
  database_url: postgres://localhost/tasks
  max_conns: 8
engine:
  horizon_years: 2
  time_zone: Europe/Berlin
logger:
  format: json
`), 0o600))
	t.Setenv("TASKINST_LOGGER_LEVEL", "debug")
	t.Setenv("TASKINST_ENGINE_HORIZON_YEARS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/tasks", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(8), cfg.Store.MaxConns)
	assert.Equal(t, 5, cfg.Engine.HorizonYears)
	assert.Equal(t, "Europe/Berlin", cfg.Engine.Location().String())
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TASKINST_ENGINE_SCAN_LIMIT=50\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TASKINST_ENGINE_SCAN_LIMIT") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Engine.ScanLimit)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:  StoreConfig{Driver: "memory"},
			Engine: EngineConfig{HorizonYears: 10, ScanLimit: 1000},
			Logger: LoggerConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "Config.Store.Driver"},
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres" }, "Config.Store.DatabaseURL"},
		{"zero horizon", func(c *Config) { c.Engine.HorizonYears = 0 }, "Config.Engine.HorizonYears"},
		{"zero scan limit", func(c *Config) { c.Engine.ScanLimit = 0 }, "Config.Engine.ScanLimit"},
		{"bad zone", func(c *Config) { c.Engine.TimeZone = "Mars/Olympus" }, "Config.Engine.TimeZone"},
		{"bad level", func(c *Config) { c.Logger.Level = "trace" }, "Config.Logger.Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	cfg := valid()
	assert.NoError(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggerConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("dropped")
	logger.Warn("kept", "task_id", 3)

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"msg":"kept"`)
	assert.Contains(t, buf.String(), `"task_id":3`)
}
