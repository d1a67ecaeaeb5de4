package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/branchdesk/sequencer/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Sequence   SequenceConfig   `validate:"required"`
	Sentry     SentryConfig
	Metrics    MetricsConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" validate:"required"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" validate:"gte=0"`
}

// SequenceConfig bounds what the allocator accepts and how callers retry it
type SequenceConfig struct {
	Store        types.StoreType `mapstructure:"store" validate:"required,oneof=postgres memory"`
	MinPeriod    types.Period    `mapstructure:"min_period" validate:"required"`
	MaxPeriod    types.Period    `mapstructure:"max_period" validate:"required,gtefield=MinPeriod"`
	MaxBlockSize int64           `mapstructure:"max_block_size" validate:"required,gt=0"`
	LockTimeout  time.Duration   `mapstructure:"lock_timeout" validate:"gte=0"`
	Retry        RetryConfig     `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     uint64        `mapstructure:"max_attempts" validate:"gte=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

func NewConfig() (*Configuration, error) {
	// A local .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/sequencer")

	setDefaults(v)

	v.SetEnvPrefix("SEQUENCER")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()
	v.SetDefault("deployment.mode", d.Deployment.Mode)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("postgres.host", d.Postgres.Host)
	v.SetDefault("postgres.port", d.Postgres.Port)
	v.SetDefault("postgres.user", d.Postgres.User)
	v.SetDefault("postgres.password", d.Postgres.Password)
	v.SetDefault("postgres.dbname", d.Postgres.DBName)
	v.SetDefault("postgres.sslmode", d.Postgres.SSLMode)
	v.SetDefault("postgres.max_open_conns", d.Postgres.MaxOpenConns)
	v.SetDefault("postgres.max_idle_conns", d.Postgres.MaxIdleConns)
	v.SetDefault("postgres.conn_max_lifetime_minutes", d.Postgres.ConnMaxLifetimeMinutes)
	v.SetDefault("sequence.store", d.Sequence.Store)
	v.SetDefault("sequence.min_period", d.Sequence.MinPeriod)
	v.SetDefault("sequence.max_period", d.Sequence.MaxPeriod)
	v.SetDefault("sequence.max_block_size", d.Sequence.MaxBlockSize)
	v.SetDefault("sequence.lock_timeout", d.Sequence.LockTimeout)
	v.SetDefault("sequence.retry.max_attempts", d.Sequence.Retry.MaxAttempts)
	v.SetDefault("sequence.retry.initial_interval", d.Sequence.Retry.InitialInterval)
	v.SetDefault("sequence.retry.max_interval", d.Sequence.Retry.MaxInterval)
	v.SetDefault("sentry.sample_rate", d.Sentry.SampleRate)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts and tests
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Postgres: PostgresConfig{
			Host:                   "localhost",
			Port:                   5432,
			User:                   "sequencer",
			Password:               "sequencer",
			DBName:                 "sequencer",
			SSLMode:                "disable",
			MaxOpenConns:           20,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 30,
		},
		Sequence: SequenceConfig{
			Store:        types.StorePostgres,
			MinPeriod:    types.DefaultMinPeriod,
			MaxPeriod:    types.DefaultMaxPeriod,
			MaxBlockSize: 10000,
			LockTimeout:  5 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 50 * time.Millisecond,
				MaxInterval:     time.Second,
			},
		},
		Sentry:  SentryConfig{SampleRate: 1.0},
		Metrics: MetricsConfig{Namespace: "sequencer"},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
