package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/api/handler"
	"github.com/cuongbtq/scrape-dispatcher/internal/api/router"
	"github.com/cuongbtq/scrape-dispatcher/internal/config"
	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher"
	"github.com/cuongbtq/scrape-dispatcher/internal/events"
	"github.com/cuongbtq/scrape-dispatcher/internal/intake"
	"github.com/cuongbtq/scrape-dispatcher/internal/session/remote"
	"github.com/cuongbtq/scrape-dispatcher/internal/sink"
	"github.com/cuongbtq/scrape-dispatcher/shared/logger"
	"github.com/cuongbtq/scrape-dispatcher/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open record sinks
	recordSink, err := sink.Open(ctx, cfg.SinkOptions(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize record sink: %w", err)
	}
	defer recordSink.Close()

	healthChecks := map[string]handler.HealthCheck{
		"sink": recordSink.HealthCheck,
	}

	// Initialize RabbitMQ client when events or intake are enabled
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Events.Enabled || cfg.RabbitMQ.Intake.Enabled {
		rabbitClient, err = rabbitmq.NewClient(cfg.RabbitMQOptions(cfg.RabbitMQ.Intake.Enabled), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		healthChecks["rabbitmq"] = rabbitClient.HealthCheck
		appLogger.Info("RabbitMQ connection established")
	}

	var notifier dispatcher.Notifier
	if cfg.RabbitMQ.Events.Enabled {
		notifier = events.NewPublisher(rabbitClient, cfg.RabbitMQ.Events.RoutingKey, appLogger.Logger)
	}

	// Build the dispatcher and its session pool
	d, err := dispatcher.New(dispatcher.Options{
		Config:   cfg.DispatcherOptions(),
		Factory:  remote.NewFactory(cfg.SessionOptions(), appLogger.Logger),
		Sink:     recordSink,
		Notifier: notifier,
		Logger:   appLogger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer d.Stop()

	var consumer *intake.Consumer
	if cfg.RabbitMQ.Intake.Enabled {
		consumer = intake.NewConsumer(rabbitClient, d, cfg.RabbitMQ.Intake.ConsumerTag, cfg.RabbitMQ.Intake.PrefetchCount, appLogger.Logger)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start intake consumer: %w", err)
		}
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:        appLogger.Logger,
		Dispatcher:    d,
		ServiceName:   cfg.App.Name,
		HealthChecks:  healthChecks,
		RotateTimeout: cfg.Session.RequestTimeout,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Int("pool_size", d.PoolSize()),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Server failed to start",
			slog.Any("error", err),
		)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop taking new work before draining in-flight requests
	cancel()
	if consumer != nil {
		consumer.Wait()
	}

	// Waiters blocked on jobs are released once the dispatcher stops
	go d.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerCfg := cfg.LoggerConfig()
	loggerCfg.TimeFormat = time.RFC3339
	return logger.New(loggerCfg)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
