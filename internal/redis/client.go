package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/koios/inkboard/internal/config"
	"github.com/koios/inkboard/pkg/models"
)

// Client wraps the Redis client for the state stream and upload result channels
type Client struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	// Generate consumer name if not provided
	if cfg.ConsumerName == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "unknown"
		}
		cfg.ConsumerName = fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
	}
	if cfg.StateStream == "" {
		cfg.StateStream = "inkboard:state_changed"
	}
	if cfg.ResultPrefix == "" {
		cfg.ResultPrefix = "inkboard:uploads:"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Test the connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := &Client{
		client: rdb,
		config: cfg,
		logger: logger,
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.String("stream", cfg.StateStream),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("consumer_name", cfg.ConsumerName))

	// Initialize consumer group for the stream
	if err := client.initializeConsumerGroup(ctx); err != nil {
		logger.Warn("Failed to initialize consumer group (may already exist)", zap.Error(err))
	}

	return client, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// ResultChannel returns the pub/sub channel for a tile's upload results
func (c *Client) ResultChannel(tile string) string {
	return c.config.ResultPrefix + tile
}

// PublishUploadResult publishes an upload result to the tile's channel
func (c *Client) PublishUploadResult(ctx context.Context, result *models.UploadResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal upload result: %w", err)
	}

	channel := c.ResultChannel(result.Tile)
	if err := c.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}

	c.logger.Debug("Published upload result",
		zap.String("channel", channel),
		zap.String("tile", result.Tile),
		zap.String("upload_id", result.UploadID))

	return nil
}

// PublishStateChange appends a state change event to the stream
func (c *Client) PublishStateChange(ctx context.Context, event *models.StateChangedEvent) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state change: %w", err)
	}
	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.config.StateStream,
		Values: map[string]interface{}{"payload": string(body)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add state change to stream: %w", err)
	}
	return id, nil
}

// initializeConsumerGroup creates the consumer group for the state stream
func (c *Client) initializeConsumerGroup(ctx context.Context) error {
	// "$" starts the group at new events; the startup seed covers current states.
	err := c.client.XGroupCreateMkStream(ctx, c.config.StateStream, c.config.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Consumer group initialized",
		zap.String("stream", c.config.StateStream),
		zap.String("group", c.config.ConsumerGroup))

	return nil
}

// ReadFromStream reads new state change messages using the consumer group
func (c *Client) ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error) {
	// ">" means only new messages not yet delivered to other consumers
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		Streams:  []string{c.config.StateStream, ">"},
		Count:    count,
		Block:    block,
		NoAck:    false, // We want to explicitly acknowledge messages
	}).Result()

	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	return streams, nil
}

// AcknowledgeMessage acknowledges a message from the stream
func (c *Client) AcknowledgeMessage(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, c.config.StateStream, c.config.ConsumerGroup, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", messageID, err)
	}

	return nil
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
