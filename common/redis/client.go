package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key or hash field does not exist
var ErrNotFound = errors.New("redis: not found")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with common operations and instrumentation
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// GetUnderlying returns the underlying redis.Client for advanced operations
func (c *Client) GetUnderlying() *redis.Client {
	return c.redis
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the underlying connection pool
func (c *Client) Close() error {
	return c.redis.Close()
}

// Increment increments a counter and returns the new value
func (c *Client) Increment(ctx context.Context, key string) (int64, error) {
	val, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis INCR failed", "key", key, "error", err)
		return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
	}
	c.logger.Debug("redis INCR", "key", key, "value", val)
	return val, nil
}

// GetHash retrieves a hash field value
func (c *Client) GetHash(ctx context.Context, key, field string) (string, error) {
	val, err := c.redis.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		c.logger.Debug("redis HGET field not found", "key", key, "field", field)
		return "", fmt.Errorf("%s.%s: %w", key, field, ErrNotFound)
	}
	if err != nil {
		c.logger.Error("redis HGET failed", "key", key, "field", field, "error", err)
		return "", fmt.Errorf("failed to get hash %s field %s: %w", key, field, err)
	}
	c.logger.Debug("redis HGET", "key", key, "field", field)
	return val, nil
}

// GetMultipleHash retrieves several hash fields in one round-trip.
// Fields that don't exist are omitted from the result.
func (c *Client) GetMultipleHash(ctx context.Context, key string, fields []string) (map[string]string, error) {
	result := make(map[string]string, len(fields))
	if len(fields) == 0 {
		return result, nil
	}

	vals, err := c.redis.HMGet(ctx, key, fields...).Result()
	if err != nil {
		c.logger.Error("redis HMGET failed", "key", key, "field_count", len(fields), "error", err)
		return nil, fmt.Errorf("failed to get hash %s fields: %w", key, err)
	}

	for i, v := range vals {
		if s, ok := v.(string); ok {
			result[fields[i]] = s
		}
	}

	c.logger.Debug("redis HMGET", "key", key, "requested", len(fields), "found", len(result))
	return result, nil
}

// RangeSortedSet returns every member of a sorted set in score order
func (c *Client) RangeSortedSet(ctx context.Context, key string) ([]string, error) {
	members, err := c.redis.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		c.logger.Error("redis ZRANGE failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to range sorted set %s: %w", key, err)
	}
	c.logger.Debug("redis ZRANGE", "key", key, "count", len(members))
	return members, nil
}

// Transaction represents a Redis transaction for atomic operations
type Transaction struct {
	pipe   redis.Pipeliner
	client *Client
	cmds   map[string]redis.Cmder
}

// NewTransaction creates a new transaction (TxPipeline)
func (c *Client) NewTransaction() *Transaction {
	return &Transaction{
		pipe:   c.redis.TxPipeline(),
		client: c,
		cmds:   make(map[string]redis.Cmder),
	}
}

// SetHashNX queues an HSETNX and returns a label for retrieving the result
func (t *Transaction) SetHashNX(ctx context.Context, key, field, value string) string {
	label := fmt.Sprintf("hsetnx_%s_%s", key, field)
	t.cmds[label] = t.pipe.HSetNX(ctx, key, field, value)
	return label
}

// SetHash queues an HSET and returns a label; the result is the number of new fields
func (t *Transaction) SetHash(ctx context.Context, key, field, value string) string {
	label := fmt.Sprintf("hset_%s_%s", key, field)
	t.cmds[label] = t.pipe.HSet(ctx, key, field, value)
	return label
}

// DeleteHash queues an HDEL and returns a label; the result is the number of removed fields
func (t *Transaction) DeleteHash(ctx context.Context, key string, fields ...string) string {
	label := fmt.Sprintf("hdel_%s", key)
	t.cmds[label] = t.pipe.HDel(ctx, key, fields...)
	return label
}

// AddToSortedSetNX queues a ZADD NX; existing members keep their score
func (t *Transaction) AddToSortedSetNX(ctx context.Context, key string, score float64, member string) string {
	label := fmt.Sprintf("zaddnx_%s_%s", key, member)
	t.cmds[label] = t.pipe.ZAddNX(ctx, key, redis.Z{Score: score, Member: member})
	return label
}

// RemoveFromSortedSet queues a ZREM
func (t *Transaction) RemoveFromSortedSet(ctx context.Context, key string, members ...string) string {
	label := fmt.Sprintf("zrem_%s", key)
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	t.cmds[label] = t.pipe.ZRem(ctx, key, args...)
	return label
}

// Exec executes all queued operations atomically
func (t *Transaction) Exec(ctx context.Context) error {
	_, err := t.pipe.Exec(ctx)
	if err != nil {
		t.client.logger.Error("redis transaction exec failed", "error", err)
		return fmt.Errorf("failed to execute transaction: %w", err)
	}
	t.client.logger.Debug("redis transaction executed successfully", "commands", len(t.cmds))
	return nil
}

// GetBoolResult retrieves a boolean result from a labeled command (for HSETNX)
func (t *Transaction) GetBoolResult(label string) (bool, error) {
	cmd, exists := t.cmds[label]
	if !exists {
		return false, fmt.Errorf("command with label %s not found", label)
	}

	boolCmd, ok := cmd.(*redis.BoolCmd)
	if !ok {
		return false, fmt.Errorf("command %s is not a BoolCmd", label)
	}

	return boolCmd.Result()
}

// GetIntResult retrieves an integer result from a labeled command (for HSET/HDEL/ZADD)
func (t *Transaction) GetIntResult(label string) (int64, error) {
	cmd, exists := t.cmds[label]
	if !exists {
		return 0, fmt.Errorf("command with label %s not found", label)
	}

	intCmd, ok := cmd.(*redis.IntCmd)
	if !ok {
		return 0, fmt.Errorf("command %s is not an IntCmd", label)
	}

	return intCmd.Result()
}
