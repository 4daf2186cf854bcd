package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix scopes environment overrides: FLEET_JWT__SECRET_KEY -> jwt.secret_key.
const EnvPrefix = "FLEET_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq"`
	JWT      JWTConfig      `koanf:"jwt"`
	Tracking TrackingConfig `koanf:"tracking"`
	Client   ClientConfig   `koanf:"client"`
}

type ServerConfig struct {
	Port              int           `koanf:"port"`
	MaxConcurrent     int           `koanf:"max_concurrent"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	LogLevel          string        `koanf:"log_level"`
}

type DatabaseConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"database"`
	Migrate  bool   `koanf:"migrate"`
	MaxConns int32  `koanf:"max_conns"`
}

type RedisConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`

	// PresenceTTL bounds how long a driver entry outlives its last heartbeat.
	PresenceTTL time.Duration `koanf:"presence_ttl"`
}

type RabbitMQConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

type JWTConfig struct {
	SecretKey      string        `koanf:"secret_key"`
	TTL            time.Duration `koanf:"ttl"`
	AllowDevTokens bool          `koanf:"allow_dev_tokens"`
}

// TrackingConfig tunes the live channel.
type TrackingConfig struct {
	NackInvalidReports bool          `koanf:"nack_invalid_reports"`
	MaxClockSkew       time.Duration `koanf:"max_clock_skew"`
	PersistLiveSamples bool          `koanf:"persist_live_samples"`
	SendBuffer         int           `koanf:"send_buffer"`
	SinkBuffer         int           `koanf:"sink_buffer"`
	PingInterval       time.Duration `koanf:"ping_interval"`
	PongWait           time.Duration `koanf:"pong_wait"`
	RESTRateLimit      int           `koanf:"rest_rate_limit"`
	AllowedOrigins     []string      `koanf:"allowed_origins"`
}

// ClientConfig is read by the monitor and driver client modes.
type ClientConfig struct {
	ServerURL         string        `koanf:"server_url"`
	Token             string        `koanf:"token"`
	ReportInterval    time.Duration `koanf:"report_interval"`
	ReconnectAttempts int           `koanf:"reconnect_attempts"`
	ReconnectMin      time.Duration `koanf:"reconnect_min"`
	ReconnectMax      time.Duration `koanf:"reconnect_max"`
	BackupWrites      bool          `koanf:"backup_writes"`
}

// Defaults returns the built-in configuration layer.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:              3001,
			MaxConcurrent:     500,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			LogLevel:          "info",
		},
		Database: DatabaseConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5432,
			User:     "pos",
			Name:     "pos",
			Migrate:  true,
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			KeyPrefix:   "fleet:",
			PresenceTTL: 90 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			User: "guest",
		},
		JWT: JWTConfig{
			TTL: 2 * time.Hour,
		},
		Tracking: TrackingConfig{
			NackInvalidReports: true,
			MaxClockSkew:       5 * time.Minute,
			SendBuffer:         64,
			SinkBuffer:         1024,
			PingInterval:       30 * time.Second,
			PongWait:           60 * time.Second,
			RESTRateLimit:      120,
		},
		Client: ClientConfig{
			ServerURL:         "http://localhost:3001",
			ReportInterval:    10 * time.Second,
			ReconnectAttempts: 5,
			ReconnectMin:      time.Second,
			ReconnectMax:      5 * time.Second,
			BackupWrites:      true,
		},
	}
}

// Load layers defaults, an optional YAML file and FLEET_ environment variables,
// then validates the result for the gateway. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	return load(path, (*Config).Validate)
}

// LoadClient is Load for the monitor and driver client modes, which never need
// server-side secrets or backing stores.
func LoadClient(path string) (*Config, error) {
	return load(path, (*Config).ValidateClient)
}

func load(path string, validate func(*Config) error) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps FLEET_TRACKING__SEND_BUFFER to tracking.send_buffer.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// Validate checks required fields and basic ranges.
func (c *Config) Validate() error {
	var problems []string

	if !validPort(c.Server.Port) {
		problems = append(problems, "server.port must be in 1..65535")
	}
	if c.Server.MaxConcurrent < 1 {
		problems = append(problems, "server.max_concurrent must be >= 1")
	}

	if c.Database.Enabled {
		if !validPort(c.Database.Port) {
			problems = append(problems, "database.port must be in 1..65535")
		}
		if c.Database.User == "" {
			problems = append(problems, "database.user is required")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.database is required")
		}
		if c.Database.MaxConns < 1 {
			problems = append(problems, "database.max_conns must be >= 1")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when redis is enabled")
	}

	if c.RabbitMQ.Enabled {
		if !validPort(c.RabbitMQ.Port) {
			problems = append(problems, "rabbitmq.port must be in 1..65535")
		}
		if c.RabbitMQ.User == "" {
			problems = append(problems, "rabbitmq.user is required")
		}
	}

	if strings.TrimSpace(c.JWT.SecretKey) == "" {
		problems = append(problems, "jwt.secret_key is required")
	}
	if c.JWT.TTL <= 0 {
		problems = append(problems, "jwt.ttl must be > 0")
	}

	if c.Tracking.SendBuffer < 1 {
		problems = append(problems, "tracking.send_buffer must be >= 1")
	}
	if c.Tracking.SinkBuffer < 1 {
		problems = append(problems, "tracking.sink_buffer must be >= 1")
	}
	if c.Tracking.PingInterval <= 0 || c.Tracking.PongWait <= c.Tracking.PingInterval {
		problems = append(problems, "tracking.pong_wait must be greater than tracking.ping_interval > 0")
	}
	if c.Redis.Enabled && c.Redis.PresenceTTL > 0 && c.Redis.PresenceTTL <= c.Tracking.PingInterval {
		problems = append(problems, "redis.presence_ttl must be greater than tracking.ping_interval")
	}
	if c.Tracking.MaxClockSkew < 0 {
		problems = append(problems, "tracking.max_clock_skew cannot be negative")
	}

	return joinProblems(problems)
}

// ValidateClient checks the client section only.
func (c *Config) ValidateClient() error {
	var problems []string

	if strings.TrimSpace(c.Client.ServerURL) == "" {
		problems = append(problems, "client.server_url is required")
	}
	if c.Client.ReportInterval <= 0 {
		problems = append(problems, "client.report_interval must be > 0")
	}
	if c.Client.ReconnectAttempts < 1 {
		problems = append(problems, "client.reconnect_attempts must be >= 1")
	}
	if c.Client.ReconnectMin <= 0 || c.Client.ReconnectMax < c.Client.ReconnectMin {
		problems = append(problems, "client.reconnect_max must be >= client.reconnect_min > 0")
	}

	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
