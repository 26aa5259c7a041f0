// Package config loads hexflow settings from defaults, an optional
// hexflow.yaml, a .env file and HEXFLOW_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "HEXFLOW"
	FileName  = "hexflow"

	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"

	defaultSQLiteFile = "workflow_sessions.db"
)

type Config struct {
	Listen       string `mapstructure:"listen"`
	WorkflowDir  string `mapstructure:"workflow_dir"`
	WorkflowFile string `mapstructure:"workflow_file"`

	StepHost   string `mapstructure:"step_host"`
	StepScheme string `mapstructure:"step_scheme"`
	// Cookie stores the workflow token in a browser cookie on /start.
	Cookie bool `mapstructure:"cookie"`

	RetentionDays int `mapstructure:"retention_days"`
	// AbandonAfter marks idle in-progress sessions abandoned. Zero disables it.
	AbandonAfter    time.Duration `mapstructure:"abandon_after"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`

	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
	Statsd StatsdConfig `mapstructure:"statsd"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type StatsdConfig struct {
	// Addr of the DogStatsD agent. Empty disables statsd.
	Addr string `mapstructure:"addr"`
}

// New returns a viper instance with hexflow defaults and environment
// binding. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("listen", ":8000")
	v.SetDefault("workflow_dir", ".")
	v.SetDefault("workflow_file", "")
	v.SetDefault("step_host", "localhost")
	v.SetDefault("step_scheme", "http")
	v.SetDefault("cookie", true)
	v.SetDefault("retention_days", 30)
	v.SetDefault("abandon_after", time.Duration(0))
	v.SetDefault("janitor_interval", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_prefix", "hexflow:")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_database", "hexflow")
	v.SetDefault("statsd.addr", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration into a validated Config.
//
// envFile (usually ".env") is loaded into the process environment when it
// exists. configFile, when set, must exist; otherwise hexflow.yaml is looked
// up in the workflow directory.
func Load(v *viper.Viper, configFile, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("workflow_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen address is required")
	}
	if c.WorkflowDir == "" {
		return errors.New("workflow_dir is required")
	}
	switch c.StepScheme {
	case "http", "https":
	default:
		return fmt.Errorf("step_scheme must be http or https, got %q", c.StepScheme)
	}
	if c.StepHost == "" {
		return errors.New("step_host is required")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	}
	if c.AbandonAfter < 0 {
		return fmt.Errorf("abandon_after must not be negative, got %s", c.AbandonAfter)
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("janitor_interval must be positive, got %s", c.JanitorInterval)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis driver")
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return errors.New("store.mongo_uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	return nil
}

// SQLitePath is the database file used by the sqlite driver.
func (c Config) SQLitePath() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	return filepath.Join(c.WorkflowDir, defaultSQLiteFile)
}
