package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/koios/inkboard/pkg/models"
)

// StreamClient is the stream access the consumer needs. *Client implements it.
type StreamClient interface {
	ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error)
	AcknowledgeMessage(ctx context.Context, messageID string) error
	IsHealthy(ctx context.Context) bool
}

// EventHandler processes one state change event
type EventHandler interface {
	Handle(ctx context.Context, event *models.StateChangedEvent) ([]*models.UploadResult, error)
}

// Consumer handles Redis stream consumption for state change events
type Consumer struct {
	client  StreamClient
	handler EventHandler
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	retryDelay time.Duration
}

// NewConsumer creates a new Redis consumer
func NewConsumer(client StreamClient, handler EventHandler, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		client:     client,
		handler:    handler,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		retryDelay: 5 * time.Second,
	}
}

// Start consumes state change events until Stop is called
func (c *Consumer) Start() error {
	c.logger.Info("Starting Redis consumer for state changes")

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Redis consumer stopped")
			return nil
		default:
			if err := c.consumeMessages(); err != nil {
				c.logger.Error("Error consuming messages, will retry",
					zap.Error(err),
					zap.Duration("retry_delay", c.retryDelay))
				c.sleep(c.retryDelay)
				continue
			}
		}
	}
}

// Stop stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("Stopping Redis consumer")
	c.cancel()
}

func (c *Consumer) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-c.ctx.Done():
	}
}

// consumeMessages handles the actual message consumption from Redis Streams
func (c *Consumer) consumeMessages() error {
	c.logger.Info("Started consuming Redis stream messages")

	for {
		select {
		case <-c.ctx.Done():
			return nil
		default:
			// Read messages from stream with blocking timeout
			streams, err := c.client.ReadFromStream(c.ctx, 10, 5*time.Second)
			if err != nil {
				if c.ctx.Err() != nil {
					return nil
				}
				// Check if connection is healthy
				if !c.client.IsHealthy(c.ctx) {
					return fmt.Errorf("redis connection unhealthy, will reconnect")
				}
				c.logger.Error("Error reading from stream", zap.Error(err))
				c.sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					c.handleStreamMessage(message)
				}
			}
		}
	}
}

// handleStreamMessage processes a single Redis Stream message. Events are acknowledged
// whether or not the redraw succeeded; the next change redraws the tile again.
func (c *Consumer) handleStreamMessage(msg redis.XMessage) {
	c.logger.Debug("Received state change from stream",
		zap.String("message_id", msg.ID),
		zap.Int("fields_count", len(msg.Values)))

	defer c.ack(msg.ID)

	payload, ok := msg.Values["payload"].(string)
	if !ok {
		c.logger.Error("Failed to extract payload from stream message",
			zap.String("message_id", msg.ID))
		return
	}

	var event models.StateChangedEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		c.logger.Error("Failed to unmarshal state change",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("payload", payload))
		return
	}

	results, err := c.handler.Handle(c.ctx, &event)
	if err != nil {
		c.logger.Error("Failed to handle state change",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("entity_id", event.EntityID))
		return
	}

	c.logger.Debug("State change processed",
		zap.String("message_id", msg.ID),
		zap.String("entity_id", event.EntityID),
		zap.Int("tiles", len(results)))
}

func (c *Consumer) ack(messageID string) {
	if err := c.client.AcknowledgeMessage(c.ctx, messageID); err != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Error(err),
			zap.String("message_id", messageID))
	}
}
