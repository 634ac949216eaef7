// Package redis provides the cache layer backed by rueidis. The retrieval
// path uses it to memoize query embeddings and full search responses; every
// cache failure is soft and never fails a request.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/WillIsback/clea-api/internal/config"
)

// Cache defines the operations the retrieval path needs. The interface keeps
// tests free of a live Redis.
type Cache interface {
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	Ping(ctx context.Context) error
	Close()
}

// Client implements Cache using rueidis.
type Client struct {
	client rueidis.Client
}

// Compile-time check that Client satisfies Cache.
var _ Cache = (*Client)(nil)

// NewClient connects to the configured Redis instance.
func NewClient(cfg *config.Config) (*Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)},
		Password:    cfg.Redis.Password,
		SelectDB:    cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) Close() { c.client.Close() }

func (c *Client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	var cmd rueidis.Completed
	if expiration > 0 {
		cmd = c.client.B().Set().Key(key).Value(value).ExSeconds(int64(expiration.Seconds())).Build()
	} else {
		cmd = c.client.B().Set().Key(key).Value(value).Build()
	}
	return c.client.Do(ctx, cmd).Error()
}

// Get returns the value for key, or the empty string when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	cmd := c.client.B().Get().Key(key).Build()
	result := c.client.Do(ctx, cmd)
	if result.Error() != nil {
		if rueidis.IsRedisNil(result.Error()) {
			return "", nil
		}
		return "", result.Error()
	}
	return result.ToString()
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cmd := c.client.B().Del().Key(keys...).Build()
	return c.client.Do(ctx, cmd).Error()
}

// SetJSON stores value serialized as JSON.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := marshalJSON(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Set(ctx, key, string(data), expiration)
}

// GetJSON loads and deserializes the value at key into dest. The boolean
// reports whether the key existed.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == "" {
		return false, nil
	}
	return true, unmarshalJSON([]byte(data), dest)
}

func (c *Client) Ping(ctx context.Context) error {
	cmd := c.client.B().Ping().Build()
	return c.client.Do(ctx, cmd).Error()
}
