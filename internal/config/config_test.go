package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func clearLegacyEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_PORT", "POSTGRES_DB", "DOWNLOAD_DIR"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	clearLegacyEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Empty(t, cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 2, cfg.Browser.MaxRestarts)
	assert.Equal(t, 3, cfg.Browser.LaunchAttempts)
	assert.Equal(t, 20, cfg.Navigator.ReadyTimeoutSecs)
	assert.Equal(t, 2, cfg.Navigator.StageAttempts)
	assert.InDelta(t, 0.5, cfg.Normalizer.MatchThreshold, 0.001)
	assert.Equal(t, "downloads", cfg.Download.Root)
	assert.True(t, cfg.Download.Enabled)
	assert.InDelta(t, 3.0, cfg.Batch.DelaySecs, 0.001)
	assert.Equal(t, DefaultStockIDs, cfg.Batch.StockIDs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)
	clearLegacyEnv(t)

	yaml := `
store:
  driver: sqlite
  database_url: twstock.db
log:
  level: debug
  format: console
batch:
  stock_ids: ["2330", "2317"]
  delay_secs: 0.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "twstock.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"2330", "2317"}, cfg.Batch.StockIDs)
	assert.InDelta(t, 0.5, cfg.Batch.DelaySecs, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 2, cfg.Browser.MaxRestarts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	clearLegacyEnv(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TWSTOCK_STORE_DRIVER", "postgres")
	t.Setenv("TWSTOCK_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadLegacyDatabaseURL(t *testing.T) {
	chdirTemp(t)
	clearLegacyEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/stocks")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/stocks", cfg.Store.DatabaseURL)
}

func TestLoadLegacyPostgresParts(t *testing.T) {
	chdirTemp(t)
	clearLegacyEnv(t)
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "crawler")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "twstock")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://crawler:secret@db:5432/twstock", cfg.Store.DatabaseURL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	clearLegacyEnv(t)
	t.Setenv("TWSTOCK_DOWNLOAD_ROOT", "")
	os.Unsetenv("TWSTOCK_DOWNLOAD_ROOT")
	t.Cleanup(func() { os.Unsetenv("TWSTOCK_DOWNLOAD_ROOT") })

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TWSTOCK_DOWNLOAD_ROOT=/data/pdf\n"), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/pdf", cfg.Download.Root)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "twstock.db"
	cfg.Download.Root = "downloads"
	cfg.Browser.MaxRestarts = 2
	cfg.Browser.LaunchAttempts = 3
	cfg.Navigator.StageAttempts = 2
	cfg.Normalizer.MatchThreshold = 0.5
	cfg.Batch.DelaySecs = 3
	return cfg
}

func TestValidateCrawl_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("crawl"))
}

func TestValidateCrawl_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Download.Root = ""

	err := cfg.Validate("crawl")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "download.root is required")
}

func TestValidateCrawl_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Normalizer.MatchThreshold = 1.5
	err := cfg.Validate("crawl")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "match_threshold")

	cfg = validDefaults()
	cfg.Browser.MaxRestarts = -1
	err = cfg.Validate("crawl")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_restarts")

	cfg = validDefaults()
	cfg.Navigator.StageAttempts = 0
	err = cfg.Validate("crawl")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "stage_attempts")
}

func TestValidateDB_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("db")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateVerify_IgnoresCrawlSettings(t *testing.T) {
	cfg := validDefaults()
	cfg.Download.Root = ""
	cfg.Normalizer.MatchThreshold = 0

	assert.NoError(t, cfg.Validate("verify"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
