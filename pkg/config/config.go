package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Store backends
const (
	StoreBackendMemory   = "memory"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendMySQL    = "mysql"
)

// Notification channel types
const (
	NotifyTypeLog     = "log"
	NotifyTypeSlack   = "slack"
	NotifyTypeTeams   = "teams"
	NotifyTypeWebhook = "webhook"
	NotifyTypeNATS    = "nats"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config is the whole process configuration, shared by every binary
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Store    StoreConfig    `json:"store"`
	Doctor   DoctorConfig   `json:"doctor"`
	Notify   NotifyConfig   `json:"notify"`
	GitHub   GitHubConfig   `json:"github"`
	NATS     NATSConfig     `json:"nats"`
	Auth     AuthConfig     `json:"auth"`
	Limits   LimitsConfig   `json:"limits"`
	Logging  LoggingConfig  `json:"logging"`
	Tracing  TracingConfig  `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains SQL database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// StoreConfig selects the incident store backend.
// Location is the table name for SQL backends and the key prefix for Redis.
type StoreConfig struct {
	Backend  string `json:"backend"`
	Location string `json:"location"`
}

// DoctorConfig contains the remediation policy
type DoctorConfig struct {
	MaxRetries                int           `json:"max_retries"`
	TimeoutCeilingMinutes     int           `json:"timeout_ceiling_minutes"`
	BackoffDelay              time.Duration `json:"backoff_delay"`
	SuppressRepeatEscalations bool          `json:"suppress_repeat_escalations"`
}

// NotifyConfig selects the escalation channel.
// Target is a webhook URL for HTTP channels and a subject for NATS.
type NotifyConfig struct {
	Type    string        `json:"type"`
	Target  string        `json:"target"`
	Timeout time.Duration `json:"timeout"`
}

// GitHubConfig holds credentials for the GitHub Actions orchestration adapter
type GitHubConfig struct {
	Token      string `json:"-"`
	BaseURL    string `json:"base_url"`
	TokenInput string `json:"token_input"`
}

// NATSConfig contains the event bus configuration
type NATSConfig struct {
	URL           string        `json:"url"`
	Stream        string        `json:"stream"`
	Subject       string        `json:"subject"`
	Durable       string        `json:"durable"`
	AckWait       time.Duration `json:"ack_wait"`
	MaxDeliver    int           `json:"max_deliver"`
	MaxReconnects int           `json:"max_reconnects"`
}

// AuthConfig contains API authentication configuration
type AuthConfig struct {
	JWTSecret string `json:"-"`
}

// LimitsConfig throttles event ingestion per caller. Zero requests disables it.
type LimitsConfig struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
	Environment    string  `json:"environment"`
}

// Load reads the configuration from the environment. Unset or unparsable
// variables fall back to their defaults; the result is then validated.
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         envString("SERVER_HOST", "0.0.0.0"),
			Port:         envInt("SERVER_PORT", 8080),
			ReadTimeout:  envDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: envDuration("SERVER_WRITE_TIMEOUT", 2*time.Minute),
			IdleTimeout:  envDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:            envString("DB_HOST", "localhost"),
			Port:            envInt("DB_PORT", 5432),
			Name:            envString("DB_NAME", "doctor"),
			User:            envString("DB_USER", "doctor"),
			Password:        envString("DB_PASSWORD", ""),
			SSLMode:         envString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     envString("REDIS_HOST", "localhost"),
			Port:     envInt("REDIS_PORT", 6379),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
			PoolSize: envInt("REDIS_POOL_SIZE", 10),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(envString("STORE_BACKEND", StoreBackendMemory)),
			Location: envString("STORE_LOCATION", "incidents"),
		},
		Doctor: DoctorConfig{
			MaxRetries:                envInt("DOCTOR_MAX_RETRIES", 2),
			TimeoutCeilingMinutes:     envInt("DOCTOR_TIMEOUT_CEILING_MINUTES", 60),
			BackoffDelay:              envDuration("DOCTOR_BACKOFF_DELAY", 30*time.Second),
			SuppressRepeatEscalations: envBool("DOCTOR_SUPPRESS_REPEAT_ESCALATION", false),
		},
		Notify: NotifyConfig{
			Type:    strings.ToLower(envString("NOTIFY_TYPE", NotifyTypeLog)),
			Target:  envString("NOTIFY_TARGET", ""),
			Timeout: envDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		GitHub: GitHubConfig{
			Token:      envString("GITHUB_TOKEN", ""),
			BaseURL:    envString("GITHUB_BASE_URL", ""),
			TokenInput: envString("GITHUB_RETRY_TOKEN_INPUT", "doctor_retry_token"),
		},
		NATS: NATSConfig{
			URL:           envString("NATS_URL", "nats://localhost:4222"),
			Stream:        envString("NATS_STREAM", "PIPELINE_EVENTS"),
			Subject:       envString("NATS_SUBJECT", "pipeline.events.failure"),
			Durable:       envString("NATS_DURABLE", "pipeline-doctor"),
			AckWait:       envDuration("NATS_ACK_WAIT", 2*time.Minute),
			MaxDeliver:    envInt("NATS_MAX_DELIVER", 5),
			MaxReconnects: envInt("NATS_MAX_RECONNECTS", 60),
		},
		Auth: AuthConfig{
			JWTSecret: envString("AUTH_JWT_SECRET", ""),
		},
		Limits: LimitsConfig{
			Requests: envInt("RATE_LIMIT_REQUESTS", 600),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
			Output: envString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        envBool("TRACING_ENABLED", false),
			JaegerEndpoint: envString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   envFloat("TRACING_SAMPLING_RATE", 1.0),
			Environment:    envString("ENVIRONMENT", "development"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate rejects settings the doctor cannot run with
func (c *Config) Validate() error {
	if c.Doctor.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}

	if c.Doctor.TimeoutCeilingMinutes <= 0 {
		return fmt.Errorf("timeout ceiling must be positive")
	}

	if c.Doctor.BackoffDelay < 0 {
		return fmt.Errorf("backoff delay must not be negative")
	}

	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendRedis:
	case StoreBackendPostgres, StoreBackendMySQL:
		if !identifierPattern.MatchString(c.Store.Location) {
			return fmt.Errorf("store location %q is not a valid table name", c.Store.Location)
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}

	if c.Store.Location == "" {
		return fmt.Errorf("store location is required")
	}

	switch c.Notify.Type {
	case NotifyTypeLog:
	case NotifyTypeSlack, NotifyTypeTeams, NotifyTypeWebhook, NotifyTypeNATS:
		if c.Notify.Target == "" {
			return fmt.Errorf("notification target is required for %s channel", c.Notify.Type)
		}
	default:
		return fmt.Errorf("unsupported notification type: %s", c.Notify.Type)
	}

	if c.Limits.Requests < 0 {
		return fmt.Errorf("rate limit requests must not be negative")
	}
	if c.Limits.Requests > 0 && c.Limits.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	if c.NATS.AckWait > 0 && c.Doctor.BackoffDelay >= c.NATS.AckWait {
		return fmt.Errorf("backoff delay %s must fit inside the NATS ack wait %s", c.Doctor.BackoffDelay, c.NATS.AckWait)
	}

	return nil
}

// ServerAddr returns the HTTP listen address
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Addr is the host:port of the Redis server
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}
