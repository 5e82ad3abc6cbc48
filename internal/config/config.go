// Package config loads the taskinst command configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load, e.g. TASKINST_STORE_DRIVER.
const EnvPrefix = "TASKINST"

// Config holds all configuration for the command.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Engine EngineConfig `mapstructure:"engine"`
	Logger LoggerConfig `mapstructure:"logger"`
}

// StoreConfig selects and configures the row store.
type StoreConfig struct {
	Driver         string        `mapstructure:"driver" validate:"required,oneof=memory postgres"`
	DatabaseURL    string        `mapstructure:"database_url" validate:"required_if=Driver postgres"`
	MaxConns       int32         `mapstructure:"max_conns" validate:"gte=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
	LogQueries     bool          `mapstructure:"log_queries"`
}

// EngineConfig holds the instance engine knobs.
type EngineConfig struct {
	HorizonYears  int    `mapstructure:"horizon_years" validate:"gte=1,lte=100"`
	InstanceLimit int    `mapstructure:"instance_limit" validate:"gte=0"`
	ScanLimit     int    `mapstructure:"scan_limit" validate:"gte=1"`
	TimeZone      string `mapstructure:"time_zone" validate:"omitempty,timezone"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Load reads configuration from .env, the optional file at path and TASKINST_ environment
// variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.connect_timeout", "10s")
	v.SetDefault("store.log_queries", false)

	v.SetDefault("engine.horizon_years", 10)
	v.SetDefault("engine.instance_limit", 0)
	v.SetDefault("engine.scan_limit", 1000)
	v.SetDefault("engine.time_zone", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Location returns the configured sorting zone, or the local zone when none is set.
func (c EngineConfig) Location() *time.Location {
	if c.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// NewLogger builds the slog logger described by c, writing to w.
func (c LoggerConfig) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
