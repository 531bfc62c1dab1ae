package config

import (
	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher"
	"github.com/cuongbtq/scrape-dispatcher/internal/session/remote"
	"github.com/cuongbtq/scrape-dispatcher/internal/sink"
	"github.com/cuongbtq/scrape-dispatcher/shared/database"
	"github.com/cuongbtq/scrape-dispatcher/shared/logger"
	"github.com/cuongbtq/scrape-dispatcher/shared/mongodb"
	"github.com/cuongbtq/scrape-dispatcher/shared/rabbitmq"
	"github.com/cuongbtq/scrape-dispatcher/shared/redis"
)

// LoggerConfig maps the logging section onto the logger package
func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:        c.Logging.Level,
		Format:       c.Logging.Format,
		Output:       c.Logging.Output,
		EnableSource: c.Logging.EnableCaller,
	}
}

// DispatcherOptions maps the dispatcher section onto dispatcher.Config
func (c *Config) DispatcherOptions() dispatcher.Config {
	d := c.Dispatcher
	return dispatcher.Config{
		PoolSize:            d.PoolSize,
		RotationLimit:       d.RotationLimit,
		MaxRecordsPerJob:    d.MaxRecordsPerJob,
		PacingDelay:         d.PacingDelay,
		IdleBackoff:         d.IdleBackoff,
		BusyBackoff:         d.BusyBackoff,
		ErrorCooldown:       d.ErrorCooldown,
		HealthCheckInterval: d.HealthCheckInterval,
		ProbeTimeout:        d.ProbeTimeout,
		WaitTimeout:         d.WaitTimeout,
		CloseTimeout:        d.CloseTimeout,
	}
}

// SessionOptions maps the session section onto the remote session factory
func (c *Config) SessionOptions() remote.Config {
	s := c.Session
	return remote.Config{
		BaseURL:        s.BaseURL,
		Browser:        s.Browser,
		Headless:       s.Headless == nil || *s.Headless,
		RequestDelay:   s.RequestDelay,
		RequestTimeout: s.RequestTimeout,
		PageSize:       s.PageSize,
	}
}

// SinkOptions maps the sink and storage sections onto sink.Options
func (c *Config) SinkOptions() sink.Options {
	db := c.Database
	return sink.Options{
		Drivers:    c.Sink.Drivers,
		SQLitePath: db.Path,
		Database: &database.Config{
			Host:            db.Host,
			Port:            db.Port,
			User:            db.User,
			Password:        db.Password,
			Database:        db.Database,
			SSLMode:         db.SSLMode,
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
			ConnMaxIdleTime: db.ConnMaxIdleTime,
		},
		MongoDB: &mongodb.Config{
			URI:            c.MongoDB.URI,
			Database:       c.MongoDB.Database,
			ConnectTimeout: c.MongoDB.ConnectTimeout,
		},
		MongoCollection: c.Sink.MongoCollection,
		Redis: &redis.Config{
			Addr:        c.Redis.Addr,
			Password:    c.Redis.Password,
			DB:          c.Redis.DB,
			DialTimeout: c.Redis.DialTimeout,
		},
		RedisKeyPrefix: c.Sink.RedisKeyPrefix,
		RedisTTL:       c.Sink.RedisTTL,
	}
}

// RabbitMQOptions maps the rabbitmq section onto a client config. With
// consume set, the intake queue is declared and bound.
func (c *Config) RabbitMQOptions(consume bool) *rabbitmq.Config {
	r := c.RabbitMQ
	cfg := &rabbitmq.Config{
		Host:               r.Host,
		Port:               r.Port,
		User:               r.User,
		Password:           r.Password,
		VHost:              r.VHost,
		ExchangeName:       r.Exchange.Name,
		ExchangeType:       r.Exchange.Type,
		ExchangeDurable:    r.Exchange.Durable,
		ExchangeAutoDelete: r.Exchange.AutoDelete,
		RetryAttempts:      r.Connection.RetryAttempts,
		RetryInterval:      r.Connection.RetryInterval,
		Heartbeat:          r.Connection.Heartbeat,
		PublishRetries:     r.Publish.RetryAttempts,
		PublishRetryDelay:  r.Publish.RetryInterval,
		PublishBackoffMult: r.Publish.BackoffMultiplier,
	}
	if consume {
		cfg.QueueName = r.Intake.Queue
		cfg.QueueDurable = r.Intake.Durable
		cfg.BindingKey = r.Intake.BindingKey
	}
	return cfg
}
