// Package config loads runtime settings.
//
// Precedence, lowest first: built-in defaults, an optional YAML file, then
// ENVIR_* environment variables (a .env file in the working directory is
// loaded into the environment first). Nested keys map to env names with
// "." replaced by "_", e.g. db.path → ENVIR_DB_PATH.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type HTTP struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxBodyMB      int64         `mapstructure:"max_body_mb"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

type DB struct {
	Path         string        `mapstructure:"path"`
	BusyTimeout  time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Identity struct {
	// NicknamePolicy is "merge" or "email_only".
	NicknamePolicy string `mapstructure:"nickname_policy"`
}

type Reports struct {
	ValidateBounds bool `mapstructure:"validate_bounds"`
}

// Dir is a single-directory section (media, static).
type Dir struct {
	Dir string `mapstructure:"dir"`
}

type Config struct {
	HTTP     HTTP     `mapstructure:"http"`
	DB       DB       `mapstructure:"db"`
	Log      Log      `mapstructure:"log"`
	Identity Identity `mapstructure:"identity"`
	Reports  Reports  `mapstructure:"reports"`
	Media    Dir      `mapstructure:"media"`
	Static   Dir      `mapstructure:"static"`
}

// Addr is the listen address for net/http.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "")
	v.SetDefault("http.port", 8000)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.max_body_mb", 16)
	v.SetDefault("http.rate_limit_rps", 20.0)
	v.SetDefault("http.rate_limit_burst", 40)

	v.SetDefault("db.path", "data/data.db")
	v.SetDefault("db.busy_timeout", 5*time.Second)
	v.SetDefault("db.max_open_conns", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("identity.nickname_policy", "merge")
	v.SetDefault("reports.validate_bounds", false)

	v.SetDefault("media.dir", "media")
	v.SetDefault("static.dir", "web/static")
}

// Load reads the configuration. path may be empty; then CONFIG_PATH is
// consulted, and if that is unset too only defaults and env vars apply.
// A path that is given but missing is an error.
func Load(path string) (*Config, error) {
	// .env is optional; a missing file is not an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ENVIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		return errors.New("config: db.path must not be empty")
	}
	if c.HTTP.MaxBodyMB <= 0 {
		return fmt.Errorf("config: http.max_body_mb must be positive, got %d", c.HTTP.MaxBodyMB)
	}
	return nil
}
