// Package config loads runtime settings from .taskmaster.yaml, TASKMASTER_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ThunderHDs/taskmaster-sub001/history"
)

type Backend string

const (
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

func (b Backend) IsValid() bool {
	switch b {
	case BackendFile, BackendSQLite, BackendPostgres:
		return true
	default:
		return false
	}
}

type Config struct {
	DataDir         string        `mapstructure:"data_dir"`
	Port            int           `mapstructure:"port"`
	Backend         Backend       `mapstructure:"backend"`
	DatabaseURL     string        `mapstructure:"database_url"`
	AuthToken       string        `mapstructure:"auth_token"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	ToastTTL        time.Duration `mapstructure:"toast_ttl"`
	DevMode         bool          `mapstructure:"dev_mode"`
	StrictIntervals bool          `mapstructure:"strict_intervals"`
	Metrics         bool          `mapstructure:"metrics"`
}

var ErrInvalidConfig = errors.New("invalid config")

func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if !c.Backend.IsValid() {
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("%w: history_limit must be positive", ErrInvalidConfig)
	}
	if c.ToastTTL <= 0 {
		return fmt.Errorf("%w: toast_ttl must be positive", ErrInvalidConfig)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskmaster"
	}
	return filepath.Join(home, ".taskmaster")
}

// New returns a viper instance with defaults, env binding and the search
// path set up. Flags can be bound onto it before Load reads it.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("port", 8080)
	v.SetDefault("backend", string(BackendFile))
	v.SetDefault("database_url", "")
	v.SetDefault("auth_token", "")
	v.SetDefault("history_limit", history.DefaultLimit)
	v.SetDefault("toast_ttl", history.DefaultToastTTL)
	v.SetDefault("dev_mode", false)
	v.SetDefault("strict_intervals", false)
	v.SetDefault("metrics", true)

	v.SetConfigName(".taskmaster") // .yaml is implicit
	v.SetEnvPrefix("TASKMASTER")
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and returns the validated config.
// An explicit path must exist; otherwise $TASKMASTER_CONFIG_PATH, the
// working directory and the data dir are searched.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		if override := os.Getenv("TASKMASTER_CONFIG_PATH"); override != "" {
			v.AddConfigPath(override)
		}
		v.AddConfigPath("./")
		v.AddConfigPath(expandHome(v.GetString("data_dir")))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
