package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrMissingURI is returned when no connection URI is configured.
var ErrMissingURI = errors.New("mongodb: missing connection uri")

// Config holds MongoDB connection configuration
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Client wraps a connected mongo.Client bound to one database.
type Client struct {
	client   *mongo.Client
	database string
	logger   *slog.Logger
}

// NewClient connects and pings the server. The caller owns the client and must Close it.
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	uri := strings.TrimSpace(config.URI)
	if uri == "" {
		return nil, ErrMissingURI
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger.Info("Connecting to MongoDB",
		slog.String("database", config.Database),
	)

	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(serverAPI).
		SetConnectTimeout(timeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Successfully connected to MongoDB")

	return &Client{
		client:   client,
		database: config.Database,
		logger:   logger,
	}, nil
}

// Collection returns a handle to a collection in the configured database.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.client.Database(c.database).Collection(name)
}

// Ping checks the server connection
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

// Close disconnects from the server
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("Closing MongoDB connection")

	if err := c.client.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to close MongoDB connection",
			slog.Any("error", err),
		)
		return err
	}
	return nil
}
