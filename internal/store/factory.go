package store

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Driver selects a Store implementation.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverSQLite Driver = "sqlite"
	DriverRedis  Driver = "redis"
)

// Option configures a store built by New.
type Option func(*options)

type options struct {
	sqlitePath  string
	redisClient *redis.Client
	redisPrefix string
	redisTTL    time.Duration
}

// WithSQLitePath sets the database file for the SQLite driver.
func WithSQLitePath(path string) Option {
	return func(o *options) {
		o.sqlitePath = path
	}
}

// WithRedisClient sets the client for the Redis driver.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithRedisPrefix sets the key prefix for the Redis driver.
func WithRedisPrefix(prefix string) Option {
	return func(o *options) {
		o.redisPrefix = prefix
	}
}

// WithRedisTTL sets the expiry applied to Redis keys. Zero keeps keys forever.
func WithRedisTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.redisTTL = ttl
	}
}

// New creates a Store for the given driver.
// SQLite requires WithSQLitePath; Redis requires WithRedisClient.
func New(driver Driver, opts ...Option) (Store, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil

	case DriverSQLite:
		if o.sqlitePath == "" {
			return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
		}
		s, err := NewSQLite(o.sqlitePath)
		if err != nil {
			return nil, err
		}
		return s, nil

	case DriverRedis:
		if o.redisClient == nil {
			return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
		}
		return NewRedis(o.redisClient, o.redisPrefix, o.redisTTL), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
	}
}
