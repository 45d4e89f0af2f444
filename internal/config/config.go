package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// MinLinkSecretLen is the shortest accepted HMAC secret for download links
	MinLinkSecretLen = 16
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Poller    PollerConfig    `yaml:"poller"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Janitor   JanitorConfig   `yaml:"janitor"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// DeadLetterConfig routes messages rejected without requeue. Both empty
// disables it.
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	MaxRetries        int           `yaml:"max_retries"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// PollerConfig holds the per-session poll cadence of the api service
type PollerConfig struct {
	ActiveInterval time.Duration `yaml:"active_interval"`
	IdleInterval   time.Duration `yaml:"idle_interval"`
	StatusTimeout  time.Duration `yaml:"status_timeout"`
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl"`
	SweepSchedule  string        `yaml:"sweep_schedule"`
}

// ArtifactsConfig holds the staging directory and download link settings
type ArtifactsConfig struct {
	StagingDir    string        `yaml:"staging_dir"`
	LinkSecret    string        `yaml:"link_secret"`
	LinkTTL       time.Duration `yaml:"link_ttl"`
	PublicBaseURL string        `yaml:"public_base_url"`
	Retention     time.Duration `yaml:"retention"`
}

// FetchConfig holds the bulk data endpoint used by the worker
type FetchConfig struct {
	BaseURL           string        `yaml:"base_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
	UserAgent         string        `yaml:"user_agent"`
}

// JanitorConfig holds the worker's maintenance schedules
type JanitorConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`
	StaleSchedule string        `yaml:"stale_schedule"`
	PurgeSchedule string        `yaml:"purge_schedule"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Poller.ActiveInterval <= 0 {
		c.Poller.ActiveInterval = 500 * time.Millisecond
	}
	if c.Poller.IdleInterval <= 0 {
		c.Poller.IdleInterval = 24 * time.Hour
	}
	if c.Poller.StatusTimeout <= 0 {
		c.Poller.StatusTimeout = 5 * time.Second
	}
	if c.Poller.SessionIdleTTL <= 0 {
		c.Poller.SessionIdleTTL = time.Hour
	}
	if c.Poller.SweepSchedule == "" {
		c.Poller.SweepSchedule = "@every 10m"
	}

	if c.Artifacts.StagingDir == "" {
		c.Artifacts.StagingDir = "data/staging"
	}
	if c.Artifacts.LinkTTL <= 0 {
		c.Artifacts.LinkTTL = 100 * time.Second
	}
	if c.Artifacts.Retention <= 0 {
		c.Artifacts.Retention = 24 * time.Hour
	}

	if c.Fetch.RequestsPerSecond <= 0 {
		c.Fetch.RequestsPerSecond = 2
	}
	if c.Fetch.Burst <= 0 {
		c.Fetch.Burst = 1
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 60 * time.Second
	}

	if c.Janitor.StaleAfter <= 0 {
		c.Janitor.StaleAfter = 2 * time.Minute
	}
	if c.Janitor.StaleSchedule == "" {
		c.Janitor.StaleSchedule = "@every 1m"
	}
	if c.Janitor.PurgeSchedule == "" {
		c.Janitor.PurgeSchedule = "@every 1h"
	}
}

// Validate checks the settings both services share
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if (c.RabbitMQ.DeadLetter.Exchange == "") != (c.RabbitMQ.DeadLetter.Queue == "") {
		return fmt.Errorf("rabbitmq dead_letter exchange and queue must be set together")
	}

	if c.Artifacts.StagingDir == "" {
		return fmt.Errorf("artifacts staging_dir is required")
	}

	return nil
}

// ValidateAPIConfig checks the api service settings on top of Validate
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown_timeout must be greater than 0")
	}

	if len(c.Artifacts.LinkSecret) < MinLinkSecretLen {
		return fmt.Errorf("artifacts link_secret must be at least %d bytes", MinLinkSecretLen)
	}

	if c.Artifacts.PublicBaseURL == "" {
		return fmt.Errorf("artifacts public_base_url is required")
	}

	if c.Poller.IdleInterval < c.Poller.ActiveInterval {
		return fmt.Errorf("poller idle_interval must not be shorter than active_interval")
	}

	return nil
}

// ValidateWorkerConfig checks the worker service settings on top of Validate
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	var errs []error

	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker concurrency must be greater than 0"))
	}

	if c.Worker.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("worker max_retries must not be negative"))
	}

	if c.Worker.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker job_timeout must be greater than 0"))
	}

	if c.Worker.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker heartbeat_interval must be greater than 0"))
	}

	if c.Worker.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker shutdown_timeout must be greater than 0"))
	}

	if c.Janitor.StaleAfter <= c.Worker.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("janitor stale_after must be longer than worker heartbeat_interval"))
	}

	if c.Fetch.BaseURL == "" {
		errs = append(errs, fmt.Errorf("fetch base_url is required"))
	}

	return errors.Join(errs...)
}
