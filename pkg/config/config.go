// Package config loads batchsync configuration from defaults, an optional
// YAML file and BATCHSYNC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/batchsync/pkg/activitylog"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// BATCHSYNC_SERVER_ADDRESS or BATCHSYNC_REDIS_ADDR.
const EnvPrefix = "BATCHSYNC"

// Config is the complete batchsync configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Executor    ExecutorConfig    `mapstructure:"executor" yaml:"executor"`
	Client      ClientConfig      `mapstructure:"client" yaml:"client"`
	ActivityLog ActivityLogConfig `mapstructure:"activity_log" yaml:"activity_log"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// ServerConfig configures the batch server.
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RedisConfig configures the optional Redis connection. An empty Addr
// disables the activity log mirror, the status board and remote abort.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db"`
	StatusTTL time.Duration `mapstructure:"status_ttl" yaml:"status_ttl"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// ExecutorConfig configures handler execution.
type ExecutorConfig struct {
	// Timeout bounds one handler invocation (0 = unbounded).
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ClientConfig configures the run command when it talks to a remote server.
type ClientConfig struct {
	// ServerURL selects the HTTP transport; empty runs handlers in-process.
	ServerURL      string        `mapstructure:"server_url" yaml:"server_url"`
	Scopes         []string      `mapstructure:"scopes" yaml:"scopes"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// ActivityLogConfig configures the activity log.
type ActivityLogConfig struct {
	Capacity     int           `mapstructure:"capacity" yaml:"capacity"`
	PaceInterval time.Duration `mapstructure:"pace_interval" yaml:"pace_interval"`
	RedisTTL     time.Duration `mapstructure:"redis_ttl" yaml:"redis_ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    90 * time.Second, // must exceed the executor timeout
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			StatusTTL: time.Hour,
		},
		Executor: ExecutorConfig{
			Timeout: 30 * time.Second,
		},
		Client: ClientConfig{
			Scopes:         []string{"batch:run"},
			Timeout:        60 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		ActivityLog: ActivityLogConfig{
			Capacity:     100,
			PaceInterval: 0,
			RedisTTL:     24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers every key of Default with v, so environment
// variables are picked up for keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.status_ttl", d.Redis.StatusTTL)

	v.SetDefault("executor.timeout", d.Executor.Timeout)

	v.SetDefault("client.server_url", d.Client.ServerURL)
	v.SetDefault("client.scopes", d.Client.Scopes)
	v.SetDefault("client.timeout", d.Client.Timeout)
	v.SetDefault("client.max_attempts", d.Client.MaxAttempts)
	v.SetDefault("client.initial_backoff", d.Client.InitialBackoff)
	v.SetDefault("client.max_backoff", d.Client.MaxBackoff)

	v.SetDefault("activity_log.capacity", d.ActivityLog.Capacity)
	v.SetDefault("activity_log.pace_interval", d.ActivityLog.PaceInterval)
	v.SetDefault("activity_log.redis_ttl", d.ActivityLog.RedisTTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the YAML file at path (if not empty) into v and returns the
// validated configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Executor.Timeout < 0 {
		errs = append(errs, errors.New("executor.timeout must not be negative"))
	}
	if c.Client.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("client.max_attempts must be >= 1 (got %d)", c.Client.MaxAttempts))
	}
	if c.Client.InitialBackoff <= 0 {
		errs = append(errs, errors.New("client.initial_backoff must be positive"))
	}
	if c.Client.MaxBackoff < c.Client.InitialBackoff {
		errs = append(errs, errors.New("client.max_backoff must be >= client.initial_backoff"))
	}
	if c.ActivityLog.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("activity_log.capacity must be > 0 (got %d)", c.ActivityLog.Capacity))
	}
	if c.ActivityLog.Capacity > activitylog.DefaultCapacity {
		errs = append(errs, fmt.Errorf("activity_log.capacity must be <= %d (got %d)", activitylog.DefaultCapacity, c.ActivityLog.Capacity))
	}
	if c.ActivityLog.PaceInterval < 0 {
		errs = append(errs, errors.New("activity_log.pace_interval must not be negative"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}
