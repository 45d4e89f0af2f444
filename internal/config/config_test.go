package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WX_TEST_DB_PASSWORD", "s3cret")

			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "s3cret", cfg.Database.Password)
				assert.Equal(t, "wx_jobs", cfg.Database.Database)
				assert.Equal(t, "wx_jobs_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "wx_jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "wx_jobs_dlq", cfg.RabbitMQ.DeadLetter.Queue)
				assert.Equal(t, "wx-api-service", cfg.App.Name)
				assert.Equal(t, 500*time.Millisecond, cfg.Poller.ActiveInterval)
				assert.Equal(t, 100*time.Second, cfg.Artifacts.LinkTTL)
				assert.Equal(t, 2.0, cfg.Fetch.RequestsPerSecond)
				assert.Equal(t, "@every 1m", cfg.Janitor.StaleSchedule)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal_worker.yaml")
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Poller.ActiveInterval)
	assert.Equal(t, 24*time.Hour, cfg.Poller.IdleInterval)
	assert.Equal(t, "@every 10m", cfg.Poller.SweepSchedule)
	assert.Equal(t, "data/staging", cfg.Artifacts.StagingDir)
	assert.Equal(t, 100*time.Second, cfg.Artifacts.LinkTTL)
	assert.Equal(t, 24*time.Hour, cfg.Artifacts.Retention)
	assert.Equal(t, 60*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Janitor.StaleAfter)

	require.NoError(t, cfg.ValidateWorkerConfig())
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, ShutdownTimeout: 30 * time.Second},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "wx_jobs",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "wx_jobs_exchange"},
			Queue:    QueueConfig{Name: "wx_jobs_queue"},
		},
		Worker: WorkerConfig{
			Concurrency:       2,
			MaxRetries:        3,
			JobTimeout:        10 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Poller: PollerConfig{ActiveInterval: 500 * time.Millisecond, IdleInterval: 24 * time.Hour},
		Artifacts: ArtifactsConfig{
			StagingDir:    "/tmp/staging",
			LinkSecret:    "0123456789abcdef",
			PublicBaseURL: "http://localhost:8080",
		},
		Fetch:   FetchConfig{BaseURL: "http://localhost:9000/bulk"},
		Janitor: JanitorConfig{StaleAfter: 2 * time.Minute},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "dead letter queue without exchange",
			mutate:    func(c *Config) { c.RabbitMQ.DeadLetter.Queue = "wx_jobs_dlq" },
			wantErr:   true,
			errString: "dead_letter",
		},
		{
			name:      "short link secret",
			mutate:    func(c *Config) { c.Artifacts.LinkSecret = "short" },
			wantErr:   true,
			errString: "link_secret",
		},
		{
			name:      "missing public base url",
			mutate:    func(c *Config) { c.Artifacts.PublicBaseURL = "" },
			wantErr:   true,
			errString: "public_base_url",
		},
		{
			name:      "idle poll faster than active poll",
			mutate:    func(c *Config) { c.Poller.IdleInterval = time.Millisecond },
			wantErr:   true,
			errString: "idle_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker concurrency"},
		{"negative retries", func(c *Config) { c.Worker.MaxRetries = -1 }, "max_retries"},
		{"zero job timeout", func(c *Config) { c.Worker.JobTimeout = 0 }, "job_timeout"},
		{"stale before heartbeat", func(c *Config) { c.Janitor.StaleAfter = 10 * time.Second }, "stale_after"},
		{"missing fetch url", func(c *Config) { c.Fetch.BaseURL = "" }, "fetch base_url"},
		{"shared settings checked first", func(c *Config) { c.Database.Host = "" }, "database host is required"},
	}

	require.NoError(t, validConfig().ValidateWorkerConfig())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}

	t.Run("reports every worker problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Worker.Concurrency = 0
		cfg.Fetch.BaseURL = ""

		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "worker concurrency")
		assert.Contains(t, err.Error(), "fetch base_url")
	})
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
