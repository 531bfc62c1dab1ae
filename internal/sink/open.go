package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/shared/database"
	"github.com/cuongbtq/scrape-dispatcher/shared/mongodb"
	"github.com/cuongbtq/scrape-dispatcher/shared/redis"
)

// Options selects and configures the sinks to open
type Options struct {
	Drivers []string

	Database        *database.Config
	SQLitePath      string
	MongoDB         *mongodb.Config
	MongoCollection string
	Redis           *redis.Config
	RedisKeyPrefix  string
	RedisTTL        time.Duration
}

// Open connects every configured driver. With no drivers it returns Nop, with
// one it returns that sink, otherwise a Multi. Sinks opened before a failure
// are closed.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Sink, error) {
	var sinks Multi

	for _, driver := range opts.Drivers {
		s, err := open(ctx, driver, opts, logger)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("failed to open %s sink: %w", driver, err)
		}
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		logger.Info("No record sink configured, records are kept in memory only")
		return Nop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func open(ctx context.Context, driver string, opts Options, logger *slog.Logger) (Sink, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
		if opts.Database == nil {
			return nil, fmt.Errorf("database config is required")
		}
		cfg := *opts.Database
		cfg.Driver = database.DriverPostgres
		if driver == DriverSQLite {
			cfg.Driver = database.DriverSQLite
			cfg.Database = opts.SQLitePath
		}
		client, err := database.NewClient(&cfg, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(ctx, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return store, nil

	case DriverMongoDB:
		if opts.MongoDB == nil {
			return nil, fmt.Errorf("mongodb config is required")
		}
		client, err := mongodb.NewClient(ctx, opts.MongoDB, logger)
		if err != nil {
			return nil, err
		}
		return NewMongoStore(client, opts.MongoCollection, logger), nil

	case DriverRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis config is required")
		}
		client, err := redis.NewClient(ctx, opts.Redis, logger)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, opts.RedisKeyPrefix, opts.RedisTTL, logger), nil

	default:
		return nil, fmt.Errorf("unsupported sink driver: %q", driver)
	}
}
