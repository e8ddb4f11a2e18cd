// Package kv wraps the shared key/value store. It is the only package that
// imports go-redis; everything else depends on the Store interface.
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the operation surface the gateway core is allowed to use. It maps
// one-to-one onto Redis commands plus two atomic composites (IncrWithWindow,
// GetDel) that the concurrency contracts require.
//
// Get reports absence through its second return value; infrastructure
// failures always arrive wrapped in domain.ErrUnavailable.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// IncrWithWindow increments key and starts its expiry window only on
	// the first touch, atomically.
	IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// GetDel reads and deletes key atomically. Exactly one of several
	// concurrent callers observes the value.
	GetDel(ctx context.Context, key string) (string, bool, error)
}

// Config holds the parameters needed to connect to the store.
type Config struct {
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client implements Store on a go-redis client. The RDB field is exported
// for the rare caller that needs raw access (health checks, tests).
type Client struct {
	RDB *redis.Client
}

// NewClient creates a new store client configured from cfg.
func NewClient(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &Client{RDB: rdb}
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.RDB.Ping(ctx).Err(); err != nil {
		return wrapErr("PING", err)
	}
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.RDB.Close()
}

// Ensure Client implements Store at compile time.
var _ Store = (*Client)(nil)
