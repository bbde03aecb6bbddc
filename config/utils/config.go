// Package config provides utilities to load environment variables & set config structs, it includes app, logger, db, redis, rabbitmq, store, runtime and metrics settings.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendJSON     = "json"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// AppConfig contains every section of the factory runtime configuration
type (
	AppConfig struct {
		App      *App      `mapstructure:"app"`
		Redis    *Redis    `mapstructure:"redis"`
		Logger   *Logger   `mapstructure:"logger"`
		DB       *DB       `mapstructure:"db"`
		RabbitMQ *RabbitMQ `mapstructure:"rabbitmq"`
		Store    *Store    `mapstructure:"store"`
		Runtime  *Runtime  `mapstructure:"runtime"`
		Metrics  *Metrics  `mapstructure:"metrics"`
	}

	// App contains all the environment variables for the application
	App struct {
		Name        string `mapstructure:"name"`
		Env         string `mapstructure:"env"`
		Owner       string `mapstructure:"owner"`
		FactoryName string `mapstructure:"factoryName"`
	}

	// Redis contains all the environment variables for the kv store
	Redis struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	}

	// DB contains all the environment variables for the database
	DB struct {
		Connection string `mapstructure:"connection"`
		Database   string `mapstructure:"database"`
		Host       string `mapstructure:"host"`
		Port       string `mapstructure:"port"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		Name       string `mapstructure:"name"`
	}

	// RabbitMQ contains the broker url and the topology used by the runtime
	RabbitMQ struct {
		URL                  string `mapstructure:"url"`
		Exchange             string `mapstructure:"exchange"`
		AssignQueue          string `mapstructure:"assignQueue"`
		CompletionRoutingKey string `mapstructure:"completionRoutingKey"`
		ResultRoutingKey     string `mapstructure:"resultRoutingKey"`
	}

	// Store selects the resource store backend
	Store struct {
		Backend   string `mapstructure:"backend"`
		DataDir   string `mapstructure:"dataDir"`
		KeyPrefix string `mapstructure:"keyPrefix"`
		SeedFile  string `mapstructure:"seedFile"`
	}

	// Runtime tunes job countdowns and completion delivery
	Runtime struct {
		TimeUnit         time.Duration `mapstructure:"timeUnit"`
		NotifyAttempts   int           `mapstructure:"notifyAttempts"`
		NotifyBackoff    time.Duration `mapstructure:"notifyBackoff"`
		DispatchInterval time.Duration `mapstructure:"dispatchInterval"`
	}

	// Metrics contains the prometheus listener address, empty disables it
	Metrics struct {
		Addr string `mapstructure:"addr"`
	}

	// Logger contains all the environment variables for the logger
	Logger struct {
		Level             string                `mapstructure:"level"`
		Development       bool                  `mapstructure:"development"`
		DisableStacktrace bool                  `mapstructure:"disableStacktrace"`
		Encoding          string                `mapstructure:"encoding"`
		EncoderConfig     zapcore.EncoderConfig `mapstructure:"encoderConfig"`
	}
)

// addZapEncoderConfig fills encoder config with zapcore types
func addZapEncoderConfig(cfg *zapcore.EncoderConfig) {
	defaults := zap.NewProductionEncoderConfig()
	if cfg.MessageKey == "" {
		cfg.MessageKey = defaults.MessageKey
	}
	if cfg.LevelKey == "" {
		cfg.LevelKey = defaults.LevelKey
	}
	if cfg.TimeKey == "" {
		cfg.TimeKey = defaults.TimeKey
	}
	if cfg.NameKey == "" {
		cfg.NameKey = defaults.NameKey
	}
	if cfg.CallerKey == "" {
		cfg.CallerKey = defaults.CallerKey
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeName = func(s string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString("[" + s + "]")
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "factory-runtime")
	v.SetDefault("app.env", "development")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.dataDir", "data")
	v.SetDefault("store.keyPrefix", "factory")
	v.SetDefault("rabbitmq.exchange", "factory")
	v.SetDefault("rabbitmq.assignQueue", "factory.assign")
	v.SetDefault("rabbitmq.completionRoutingKey", "job.completed")
	v.SetDefault("rabbitmq.resultRoutingKey", "assign.result")
	v.SetDefault("runtime.timeUnit", time.Second)
	v.SetDefault("runtime.notifyAttempts", 3)
	v.SetDefault("runtime.notifyBackoff", 100*time.Millisecond)
	v.SetDefault("runtime.dispatchInterval", 0)
}

func bindEnv(v *viper.Viper) error {
	binds := [][2]string{
		{"app.name", "APP_NAME"},
		{"db.host", "PG_HOST"},
		{"db.port", "PG_PORT"},
		{"db.user", "PG_USER"},
		{"db.password", "PG_PASS"},
		{"db.name", "PG_DB"},
		{"redis.addr", "REDIS_ADDR"},
		{"redis.password", "REDIS_PASSWORD"},
		{"rabbitmq.url", "AMQP_URL"},
		{"store.backend", "STORE_BACKEND"},
	}
	for _, b := range binds {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("bind %s to %s: %w", b[1], b[0], err)
		}
	}
	return nil
}

// Load reads the configuration at path into an AppConfig. An empty path
// searches config.yaml in the working directory and /etc/factory/.
func Load(path string) (*AppConfig, error) {
	return load(viper.GetViper(), path)
}

func load(v *viper.Viper, path string) (*AppConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/factory/")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("env")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var config *AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	addZapEncoderConfig(&config.Logger.EncoderConfig)

	return config, nil
}

func (c *AppConfig) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendJSON, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unsupported store backend %q", c.Store.Backend)
	}
	if c.Runtime.TimeUnit <= 0 {
		return fmt.Errorf("runtime.timeUnit must be positive, got %s", c.Runtime.TimeUnit)
	}
	if c.Runtime.NotifyAttempts < 1 {
		return fmt.Errorf("runtime.notifyAttempts must be at least 1, got %d", c.Runtime.NotifyAttempts)
	}
	return nil
}

// New creates a new AppConfig instance, exiting when it cannot be loaded
func New(path string) *AppConfig {
	config, err := Load(path)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return config
}
