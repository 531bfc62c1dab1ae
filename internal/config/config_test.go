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

	t.Setenv("TEST_RABBITMQ_PASSWORD", "s3cret")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
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
				assert.Equal(t, 330*time.Second, cfg.Server.WriteTimeout)
				assert.Equal(t, 3, cfg.Dispatcher.PoolSize)
				assert.Equal(t, 25, cfg.Dispatcher.RotationLimit)
				assert.Equal(t, "firefox", cfg.Session.Browser)
				require.NotNil(t, cfg.Session.Headless)
				assert.False(t, *cfg.Session.Headless)
				assert.Equal(t, 500*time.Millisecond, cfg.Session.RequestDelay)
				assert.Equal(t, []string{"sqlite", "redis"}, cfg.Sink.Drivers)
				assert.Equal(t, 24*time.Hour, cfg.Sink.RedisTTL)
				assert.Equal(t, "s3cret", cfg.RabbitMQ.Password)
				assert.Equal(t, "scrape_requests", cfg.RabbitMQ.Intake.Queue)

				// defaults fill what the file leaves out
				assert.Equal(t, 10000, cfg.Dispatcher.MaxRecordsPerJob)
				assert.Equal(t, 60*time.Second, cfg.Dispatcher.HealthCheckInterval)
				assert.Equal(t, "topic", cfg.RabbitMQ.Exchange.Type)
				assert.Equal(t, "job.finished", cfg.RabbitMQ.Events.RoutingKey)
				assert.Equal(t, "scrape-dispatcher", cfg.RabbitMQ.Intake.ConsumerTag)

				require.NoError(t, cfg.ValidateAPIConfig())
				require.NoError(t, cfg.ValidateWorkerConfig())
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)

	d := cfg.Dispatcher
	assert.Equal(t, 2, d.PoolSize)
	assert.Equal(t, 20, d.RotationLimit)
	assert.Equal(t, 10000, d.MaxRecordsPerJob)
	assert.Equal(t, 2*time.Second, d.PacingDelay)
	assert.Equal(t, 5*time.Second, d.IdleBackoff)
	assert.Equal(t, 5*time.Second, d.BusyBackoff)
	assert.Equal(t, 10*time.Second, d.ErrorCooldown)
	assert.Equal(t, 60*time.Second, d.HealthCheckInterval)
	assert.Equal(t, 10*time.Second, d.ProbeTimeout)
	assert.Equal(t, 300*time.Second, d.WaitTimeout)
	assert.Equal(t, 15*time.Second, d.CloseTimeout)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 330*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "chromium", cfg.Session.Browser)
	require.NotNil(t, cfg.Session.Headless)
	assert.True(t, *cfg.Session.Headless)
	assert.Equal(t, time.Second, cfg.Session.RequestDelay)
	assert.Equal(t, 60*time.Second, cfg.Session.RequestTimeout)
	assert.Empty(t, cfg.Sink.Drivers)

	require.NoError(t, cfg.ValidateAPIConfig())
	err = cfg.ValidateWorkerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intake must be enabled")
}

func TestLoad_InvalidPort(t *testing.T) {
	cfg, err := Load("testdata/invalid_port.yaml")
	require.NoError(t, err)

	err = cfg.ValidateAPIConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}

func validConfig() *Config {
	cfg := &Config{
		Session: SessionConfig{BaseURL: "http://sidecar:9222"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
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
			name:      "missing session base url",
			mutate:    func(c *Config) { c.Session.BaseURL = "" },
			wantErr:   true,
			errString: "session base_url is required",
		},
		{
			name:      "negative pool size",
			mutate:    func(c *Config) { c.Dispatcher.PoolSize = -1 },
			wantErr:   true,
			errString: "pool_size must be greater than 0",
		},
		{
			name:      "negative rotation limit",
			mutate:    func(c *Config) { c.Dispatcher.RotationLimit = -5 },
			wantErr:   true,
			errString: "rotation_limit must be greater than 0",
		},
		{
			name:      "unknown sink driver",
			mutate:    func(c *Config) { c.Sink.Drivers = []string{"cassandra"} },
			wantErr:   true,
			errString: "unsupported sink driver",
		},
		{
			name: "postgres sink without host",
			mutate: func(c *Config) {
				c.Sink.Drivers = []string{"postgres"}
				c.Database = DatabaseConfig{Port: 5432, Database: "records"}
			},
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name: "postgres sink with invalid port",
			mutate: func(c *Config) {
				c.Sink.Drivers = []string{"postgres"}
				c.Database = DatabaseConfig{Host: "localhost", Port: 0, Database: "records"}
			},
			wantErr:   true,
			errString: "invalid database port",
		},
		{
			name: "postgres sink complete",
			mutate: func(c *Config) {
				c.Sink.Drivers = []string{"postgres"}
				c.Database = DatabaseConfig{Host: "localhost", Port: 5432, Database: "records"}
			},
			wantErr: false,
		},
		{
			name:      "sqlite sink without path",
			mutate:    func(c *Config) { c.Sink.Drivers = []string{"sqlite"} },
			wantErr:   true,
			errString: "database path is required",
		},
		{
			name:      "mongodb sink without uri",
			mutate:    func(c *Config) { c.Sink.Drivers = []string{"mongodb"} },
			wantErr:   true,
			errString: "mongodb uri is required",
		},
		{
			name: "mongodb sink without database",
			mutate: func(c *Config) {
				c.Sink.Drivers = []string{"mongodb"}
				c.MongoDB.URI = "mongodb://localhost:27017"
			},
			wantErr:   true,
			errString: "mongodb database is required",
		},
		{
			name:      "redis sink without addr",
			mutate:    func(c *Config) { c.Sink.Drivers = []string{"redis"} },
			wantErr:   true,
			errString: "redis addr is required",
		},
		{
			name:      "events without rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Events.Enabled = true },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name: "events without exchange",
			mutate: func(c *Config) {
				c.RabbitMQ.Events.Enabled = true
				c.RabbitMQ.Host = "localhost"
				c.RabbitMQ.Port = 5672
			},
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "intake without queue",
			mutate: func(c *Config) {
				c.RabbitMQ.Intake.Enabled = true
				c.RabbitMQ.Host = "localhost"
				c.RabbitMQ.Port = 5672
				c.RabbitMQ.Exchange.Name = "scrape_exchange"
			},
			wantErr:   true,
			errString: "rabbitmq intake queue is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "write timeout shorter than wait timeout",
			mutate:    func(c *Config) { c.Server.WriteTimeout = 30 * time.Second },
			errString: "must exceed dispatcher wait_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Path = "/tmp/records.db"
	cfg.Sink.Drivers = []string{"sqlite"}
	cfg.RabbitMQ.Intake.Queue = "scrape_requests"

	d := cfg.DispatcherOptions()
	assert.Equal(t, 2, d.PoolSize)
	assert.Equal(t, 300*time.Second, d.WaitTimeout)

	s := cfg.SessionOptions()
	assert.Equal(t, "http://sidecar:9222", s.BaseURL)
	assert.True(t, s.Headless)

	so := cfg.SinkOptions()
	assert.Equal(t, []string{"sqlite"}, so.Drivers)
	assert.Equal(t, "/tmp/records.db", so.SQLitePath)
	assert.Equal(t, "records", so.RedisKeyPrefix)

	publishOnly := cfg.RabbitMQOptions(false)
	assert.Empty(t, publishOnly.QueueName)
	consumer := cfg.RabbitMQOptions(true)
	assert.Equal(t, "scrape_requests", consumer.QueueName)
	assert.Equal(t, "job.requested", consumer.BindingKey)

	lc := cfg.LoggerConfig()
	assert.Equal(t, "info", lc.Level)
	assert.Equal(t, "console", lc.Format)
}
