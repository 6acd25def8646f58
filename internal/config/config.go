// Package config loads application configuration and the per-run job file.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Tiger    TigerConfig    `yaml:"tiger" mapstructure:"tiger"`
	Geocoder GeocoderConfig `yaml:"geocoder" mapstructure:"geocoder"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// TigerConfig configures TIGER/Line downloads and the boundary cache.
type TigerConfig struct {
	Year     int    `yaml:"year" mapstructure:"year"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
	CacheDB  string `yaml:"cache_db" mapstructure:"cache_db"`
}

// GeocoderConfig configures the address resolution client.
type GeocoderConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries     int     `yaml:"retries" mapstructure:"retries"`
	SleepSecs   int     `yaml:"sleep_secs" mapstructure:"sleep_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// EnrichConfig configures the row transformation defaults.
type EnrichConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CENSUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("tiger.year", 2020)
	v.SetDefault("tiger.base_url", "https://www2.census.gov/geo/tiger")
	v.SetDefault("tiger.cache_dir", defaultCacheDir())
	v.SetDefault("tiger.cache_db", "boundaries.db")
	v.SetDefault("geocoder.provider", "census")
	v.SetDefault("geocoder.user_agent", "census-enrich")
	v.SetDefault("geocoder.timeout_secs", 5)
	v.SetDefault("geocoder.retries", 5)
	v.SetDefault("geocoder.sleep_secs", 1)
	v.SetDefault("geocoder.rate_limit", 10.0)
	v.SetDefault("enrich.concurrency", 4)
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

// CacheDBPath returns the full path of the SQLite boundary cache.
func (t TigerConfig) CacheDBPath() string {
	if filepath.IsAbs(t.CacheDB) {
		return t.CacheDB
	}
	return filepath.Join(t.CacheDir, t.CacheDB)
}

// defaultCacheDir places the boundary cache under the user cache directory,
// falling back to a relative directory when none is available.
func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return ".census-cache"
	}
	return filepath.Join(base, "census")
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
