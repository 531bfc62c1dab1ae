package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/config"
	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher"
	"github.com/cuongbtq/scrape-dispatcher/internal/events"
	"github.com/cuongbtq/scrape-dispatcher/internal/intake"
	"github.com/cuongbtq/scrape-dispatcher/internal/session/remote"
	"github.com/cuongbtq/scrape-dispatcher/internal/sink"
	"github.com/cuongbtq/scrape-dispatcher/shared/logger"
	"github.com/cuongbtq/scrape-dispatcher/shared/rabbitmq"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	loggerCfg := cfg.LoggerConfig()
	loggerCfg.TimeFormat = time.RFC3339
	appLogger, err := logger.New(loggerCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open record sinks
	recordSink, err := sink.Open(ctx, cfg.SinkOptions(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize record sink: %w", err)
	}

	// Initialize RabbitMQ client with the intake queue declared
	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQOptions(true), appLogger.Logger)
	if err != nil {
		_ = recordSink.Close()
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	var notifier dispatcher.Notifier
	if cfg.RabbitMQ.Events.Enabled {
		notifier = events.NewPublisher(rabbitClient, cfg.RabbitMQ.Events.RoutingKey, appLogger.Logger)
	}

	d, err := dispatcher.New(dispatcher.Options{
		Config:   cfg.DispatcherOptions(),
		Factory:  remote.NewFactory(cfg.SessionOptions(), appLogger.Logger),
		Sink:     recordSink,
		Notifier: notifier,
		Logger:   appLogger.Logger,
	})
	if err != nil {
		_ = rabbitClient.Close()
		_ = recordSink.Close()
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if rabbitClient != nil {
			rabbitClient.Close()
		}
		if recordSink != nil {
			recordSink.Close()
		}
	}
	defer cleanup()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	consumer := intake.NewConsumer(rabbitClient, d, cfg.RabbitMQ.Intake.ConsumerTag, cfg.RabbitMQ.Intake.PrefetchCount, appLogger.Logger)
	if err := consumer.Start(ctx); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start intake consumer: %w", err)
	}

	appLogger.Info("Worker service started successfully",
		slog.Int("pool_size", d.PoolSize()),
		slog.String("queue", cfg.RabbitMQ.Intake.Queue),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	// Cancel context to stop consuming and the slot loops
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		consumer.Wait()
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
