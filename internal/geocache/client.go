// Package geocache caches call-sign geolocation results in Redis so
// repeated spots by the same stations do not hammer the lookup service.
package geocache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dxwatch/dxwatch/internal/types"
)

// RedisClientInterface defines the Redis operations used by our client.
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client manages Redis connections and operations.
type Client struct {
	client RedisClientInterface
	ttl    time.Duration
}

// New creates a new cache client and verifies the connection.
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client, ttl: 24 * time.Hour}, nil
}

// NewWithClient creates a cache client around a custom RedisClientInterface
// (useful for testing).
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client, ttl: 24 * time.Hour}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func key(callsign string) string {
	return "geo:call:" + strings.ToUpper(callsign)
}

// StoreCoordinate caches the geographic position of a call sign.
func (c *Client) StoreCoordinate(ctx context.Context, callsign string, coord types.Coordinate) error {
	data, err := json.Marshal(coord)
	if err != nil {
		return fmt.Errorf("failed to marshal coordinate: %w", err)
	}
	return c.client.Set(ctx, key(callsign), data, c.ttl).Err()
}

// GetCoordinate retrieves a cached position. A cache miss returns
// (nil, nil).
func (c *Client) GetCoordinate(ctx context.Context, callsign string) (*types.Coordinate, error) {
	data, err := c.client.Get(ctx, key(callsign)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coordinate: %w", err)
	}

	var coord types.Coordinate
	if err := json.Unmarshal(data, &coord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal coordinate: %w", err)
	}
	return &coord, nil
}

// DeleteCoordinate drops a cached position.
func (c *Client) DeleteCoordinate(ctx context.Context, callsign string) error {
	return c.client.Del(ctx, key(callsign)).Err()
}
