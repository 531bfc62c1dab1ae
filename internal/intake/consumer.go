// Package intake feeds the dispatcher from a RabbitMQ queue.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Source starts a delivery stream
type Source interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// Enqueuer accepts identifiers in order
type Enqueuer interface {
	EnqueueBatch(identifiers []string) ([]string, error)
}

// Message is the accepted body: a single identifier, a list, or both
type Message struct {
	Identifier  string   `json:"identifier,omitempty"`
	Identifiers []string `json:"identifiers,omitempty"`
}

// ParseMessage decodes a delivery body into identifiers
func ParseMessage(body []byte) ([]string, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message JSON: %w", err)
	}

	var identifiers []string
	if s := strings.TrimSpace(msg.Identifier); s != "" {
		identifiers = append(identifiers, s)
	}
	identifiers = append(identifiers, msg.Identifiers...)

	if len(identifiers) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	return identifiers, nil
}

// Consumer moves queue messages into the dispatcher
type Consumer struct {
	source      Source
	enqueuer    Enqueuer
	consumerTag string
	prefetch    int
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewConsumer creates a consumer. prefetch <= 0 defaults to 10.
func NewConsumer(source Source, enqueuer Enqueuer, consumerTag string, prefetch int, logger *slog.Logger) *Consumer {
	if prefetch <= 0 {
		prefetch = 10
	}
	return &Consumer{
		source:      source,
		enqueuer:    enqueuer,
		consumerTag: consumerTag,
		prefetch:    prefetch,
		logger:      logger,
	}
}

// Start begins consuming in the background until ctx is canceled
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag, c.prefetch)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, deliveries)
	}()
	return nil
}

// Wait blocks until the consume loop has exited
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	c.logger.Info("Intake consumer started",
		slog.String("consumer_tag", c.consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Intake consumer stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			if ctx.Err() != nil {
				// NACK the message so another consumer can take it
				if err := delivery.Nack(false, true); err != nil {
					c.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", err),
					)
				}
				return
			}

			c.handle(delivery)
		}
	}
}

func (c *Consumer) handle(delivery amqp.Delivery) {
	identifiers, err := ParseMessage(delivery.Body)
	if err == nil {
		var ids []string
		ids, err = c.enqueuer.EnqueueBatch(identifiers)
		if err == nil {
			c.logger.Info("Jobs queued from intake",
				slog.Int("count", len(ids)),
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
			)
			if ackErr := delivery.Ack(false); ackErr != nil {
				c.logger.Error("Failed to ACK message",
					slog.Any("error", ackErr),
				)
			}
			return
		}
	}

	c.logger.Error("Rejecting intake message",
		slog.Any("error", err),
		slog.String("body", string(delivery.Body)),
	)
	// NACK without requeue - malformed messages should go to DLQ
	if nackErr := delivery.Nack(false, false); nackErr != nil {
		c.logger.Error("Failed to NACK malformed message",
			slog.Any("error", nackErr),
		)
	}
}
