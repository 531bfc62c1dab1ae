package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

var sinkDrivers = []string{"postgres", "sqlite", "mongodb", "redis"}

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Session    SessionConfig    `yaml:"session"`
	Sink       SinkConfig       `yaml:"sink"`
	Database   DatabaseConfig   `yaml:"database"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// DispatcherConfig holds pool sizing, rotation policy and loop timings
type DispatcherConfig struct {
	PoolSize            int           `yaml:"pool_size"`
	RotationLimit       int           `yaml:"rotation_limit"`
	MaxRecordsPerJob    int           `yaml:"max_records_per_job"`
	PacingDelay         time.Duration `yaml:"pacing_delay"`
	IdleBackoff         time.Duration `yaml:"idle_backoff"`
	BusyBackoff         time.Duration `yaml:"busy_backoff"`
	ErrorCooldown       time.Duration `yaml:"error_cooldown"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	WaitTimeout         time.Duration `yaml:"wait_timeout"`
	CloseTimeout        time.Duration `yaml:"close_timeout"`
}

// SessionConfig configures the scraping sidecar sessions are created on
type SessionConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Browser        string        `yaml:"browser"`
	Headless       *bool         `yaml:"headless"`
	RequestDelay   time.Duration `yaml:"request_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PageSize       int           `yaml:"page_size"`
}

// SinkConfig selects where fetched records are persisted
type SinkConfig struct {
	Drivers         []string      `yaml:"drivers"`
	MongoCollection string        `yaml:"mongo_collection"`
	RedisKeyPrefix  string        `yaml:"redis_key_prefix"`
	RedisTTL        time.Duration `yaml:"redis_ttl"`
}

// DatabaseConfig holds SQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	Path            string        `yaml:"path"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Events     EventsConfig     `yaml:"events"`
	Intake     IntakeConfig     `yaml:"intake"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// EventsConfig enables job-finished events
type EventsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RoutingKey string `yaml:"routing_key"`
}

// IntakeConfig enables consuming identifiers from a queue
type IntakeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Queue         string `yaml:"queue"`
	BindingKey    string `yaml:"binding_key"`
	Durable       bool   `yaml:"durable"`
	PrefetchCount int    `yaml:"prefetch_count"`
	ConsumerTag   string `yaml:"consumer_tag"`
}

// Load reads the configuration file, expands ${ENV} references and fills defaults
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
	setDefault(&c.App.Name, "scrape-dispatcher")
	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")

	setDefault(&c.Server.Port, 8080)
	setDefault(&c.Server.ReadTimeout, 15*time.Second)
	setDefault(&c.Server.IdleTimeout, 60*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 30*time.Second)

	d := &c.Dispatcher
	setDefault(&d.PoolSize, 2)
	setDefault(&d.RotationLimit, 20)
	setDefault(&d.MaxRecordsPerJob, 10000)
	setDefault(&d.PacingDelay, 2*time.Second)
	setDefault(&d.IdleBackoff, 5*time.Second)
	setDefault(&d.BusyBackoff, 5*time.Second)
	setDefault(&d.ErrorCooldown, 10*time.Second)
	setDefault(&d.HealthCheckInterval, 60*time.Second)
	setDefault(&d.ProbeTimeout, 10*time.Second)
	setDefault(&d.WaitTimeout, 300*time.Second)
	setDefault(&d.CloseTimeout, 15*time.Second)

	// the synchronous endpoint holds the response open for up to wait_timeout
	setDefault(&c.Server.WriteTimeout, d.WaitTimeout+30*time.Second)

	setDefault(&c.Session.Browser, "chromium")
	if c.Session.Headless == nil {
		headless := true
		c.Session.Headless = &headless
	}
	setDefault(&c.Session.RequestDelay, time.Second)
	setDefault(&c.Session.RequestTimeout, 60*time.Second)
	setDefault(&c.Session.PageSize, 30)

	setDefault(&c.Sink.MongoCollection, "records")
	setDefault(&c.Sink.RedisKeyPrefix, "records")

	setDefault(&c.Database.SSLMode, "disable")
	setDefault(&c.MongoDB.ConnectTimeout, 10*time.Second)
	setDefault(&c.Redis.DialTimeout, 5*time.Second)

	setDefault(&c.RabbitMQ.VHost, "/")
	setDefault(&c.RabbitMQ.Exchange.Type, "topic")
	setDefault(&c.RabbitMQ.Events.RoutingKey, "job.finished")
	setDefault(&c.RabbitMQ.Intake.BindingKey, "job.requested")
	setDefault(&c.RabbitMQ.Intake.PrefetchCount, 10)
	setDefault(&c.RabbitMQ.Intake.ConsumerTag, c.App.Name)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks the settings shared by every binary
func (c *Config) Validate() error {
	d := c.Dispatcher
	if d.PoolSize <= 0 {
		return fmt.Errorf("dispatcher pool_size must be greater than 0")
	}
	if d.RotationLimit <= 0 {
		return fmt.Errorf("dispatcher rotation_limit must be greater than 0")
	}
	if d.MaxRecordsPerJob <= 0 {
		return fmt.Errorf("dispatcher max_records_per_job must be greater than 0")
	}
	if d.HealthCheckInterval <= 0 {
		return fmt.Errorf("dispatcher health_check_interval must be greater than 0")
	}
	if d.WaitTimeout <= 0 {
		return fmt.Errorf("dispatcher wait_timeout must be greater than 0")
	}

	if c.Session.BaseURL == "" {
		return fmt.Errorf("session base_url is required")
	}

	for _, driver := range c.Sink.Drivers {
		if !slices.Contains(sinkDrivers, driver) {
			return fmt.Errorf("unsupported sink driver: %q", driver)
		}
		if err := c.validateSinkDriver(driver); err != nil {
			return err
		}
	}

	if c.RabbitMQ.Events.Enabled || c.RabbitMQ.Intake.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}
	if c.RabbitMQ.Intake.Enabled && c.RabbitMQ.Intake.Queue == "" {
		return fmt.Errorf("rabbitmq intake queue is required")
	}

	return nil
}

func (c *Config) validateSinkDriver(driver string) error {
	switch driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "mongodb":
		if c.MongoDB.URI == "" {
			return fmt.Errorf("mongodb uri is required")
		}
		if c.MongoDB.Database == "" {
			return fmt.Errorf("mongodb database is required")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required")
		}
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	return nil
}

// ValidateAPIConfig checks the settings the HTTP service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.WriteTimeout <= c.Dispatcher.WaitTimeout {
		return fmt.Errorf("server write_timeout (%s) must exceed dispatcher wait_timeout (%s)", c.Server.WriteTimeout, c.Dispatcher.WaitTimeout)
	}

	return nil
}

// ValidateWorkerConfig checks the settings the headless worker needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if !c.RabbitMQ.Intake.Enabled {
		return fmt.Errorf("rabbitmq intake must be enabled for the worker service")
	}

	return nil
}
