package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultStockIDs is the identifier list crawled when none is given.
var DefaultStockIDs = []string{"2330", "2454", "2317", "2412", "2882", "2881", "2303", "1301", "3711", "0001"}

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Navigator  NavigatorConfig  `yaml:"navigator" mapstructure:"navigator"`
	Normalizer NormalizerConfig `yaml:"normalizer" mapstructure:"normalizer"`
	Download   DownloadConfig   `yaml:"download" mapstructure:"download"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BrowserConfig configures the headless browser session.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless" mapstructure:"headless"`
	ExecPath       string `yaml:"exec_path" mapstructure:"exec_path"`
	RemoteURL      string `yaml:"remote_url" mapstructure:"remote_url"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	WindowWidth    int    `yaml:"window_width" mapstructure:"window_width"`
	WindowHeight   int    `yaml:"window_height" mapstructure:"window_height"`
	MaxRestarts    int    `yaml:"max_restarts" mapstructure:"max_restarts"`
	LaunchAttempts int    `yaml:"launch_attempts" mapstructure:"launch_attempts"`
}

// NavigatorConfig configures stage navigation and readiness polling.
type NavigatorConfig struct {
	SiteFile         string `yaml:"site_file" mapstructure:"site_file"`
	ReadyTimeoutSecs int    `yaml:"ready_timeout_secs" mapstructure:"ready_timeout_secs"`
	PollIntervalMs   int    `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	StageAttempts    int    `yaml:"stage_attempts" mapstructure:"stage_attempts"`
	StageDelayMs     int    `yaml:"stage_delay_ms" mapstructure:"stage_delay_ms"`
}

// NormalizerConfig configures table normalization.
type NormalizerConfig struct {
	SchemaDir      string  `yaml:"schema_dir" mapstructure:"schema_dir"`
	MatchThreshold float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
}

// DownloadConfig configures filing document retrieval.
type DownloadConfig struct {
	Root        string  `yaml:"root" mapstructure:"root"`
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	StockIDs  []string `yaml:"stock_ids" mapstructure:"stock_ids"`
	DelaySecs float64  `yaml:"delay_secs" mapstructure:"delay_secs"`
}

// RetryConfig configures backoff for database writes and browser launch.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, the config file and environment.
func Load() (*Config, error) {
	// .env is optional; existing environment wins.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TWSTOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", legacyDatabaseURL())
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.max_restarts", 2)
	v.SetDefault("browser.launch_attempts", 3)
	v.SetDefault("navigator.ready_timeout_secs", 20)
	v.SetDefault("navigator.poll_interval_ms", 500)
	v.SetDefault("navigator.stage_attempts", 2)
	v.SetDefault("navigator.stage_delay_ms", 2000)
	v.SetDefault("normalizer.match_threshold", 0.5)
	v.SetDefault("download.root", envOr("DOWNLOAD_DIR", "downloads"))
	v.SetDefault("download.enabled", true)
	v.SetDefault("download.timeout_secs", 60)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.rate_per_sec", 1.0)
	v.SetDefault("download.concurrency", 2)
	v.SetDefault("batch.stock_ids", DefaultStockIDs)
	v.SetDefault("batch.delay_secs", 3.0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the values a command needs before it starts work.
// Mode is one of "crawl", "db" or "verify".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "crawl":
		errs = append(errs, c.validateStore()...)
		if c.Download.Root == "" {
			errs = append(errs, "download.root is required")
		}
		if c.Browser.MaxRestarts < 0 {
			errs = append(errs, "browser.max_restarts must be >= 0")
		}
		if c.Browser.LaunchAttempts < 1 {
			errs = append(errs, "browser.launch_attempts must be >= 1")
		}
		if c.Navigator.StageAttempts < 1 {
			errs = append(errs, "navigator.stage_attempts must be >= 1")
		}
		if c.Normalizer.MatchThreshold <= 0 || c.Normalizer.MatchThreshold > 1 {
			errs = append(errs, fmt.Sprintf("normalizer.match_threshold must be in (0,1], got %.2f", c.Normalizer.MatchThreshold))
		}
		if c.Batch.DelaySecs < 0 {
			errs = append(errs, "batch.delay_secs must be >= 0")
		}
	case "db", "verify":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return []string{fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver)}
	}
	if c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	return nil
}

// legacyDatabaseURL honours DATABASE_URL and the POSTGRES_* variables
// the crawler has always been deployed with.
func legacyDatabaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		envOr("POSTGRES_USER", "postgres"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		envOr("POSTGRES_PORT", "5432"),
		envOr("POSTGRES_DB", "postgres"),
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
