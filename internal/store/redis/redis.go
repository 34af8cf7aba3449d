package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/concord-chat/beacon/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Client wraps a go-redis client with logging and convenience methods
type Client struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// New creates a new Redis client, pings the server, and returns the Client wrapper.
// Complexity: O(1)
func New(cfg config.RedisConfig, logger zerolog.Logger) (*Client, error) {
	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("db", cfg.DB).
		Int("pool_size", cfg.PoolSize).
		Msg("initializing redis client")

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Ping to verify connectivity
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info().Msg("redis client initialized successfully")

	return &Client{
		rdb:    rdb,
		logger: logger,
	}, nil
}

// Ping checks if the Redis server is reachable.
// Complexity: O(1)
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection and releases all resources.
func (c *Client) Close() error {
	c.logger.Info().Msg("closing redis client")
	return c.rdb.Close()
}

// Underlying returns the underlying *redis.Client for advanced operations.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
