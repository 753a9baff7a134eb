package store

import (
	"github.com/ashureev/crmchat/internal/config"
	"github.com/redis/go-redis/v9"
)

// Open builds the store selected by cfg, dialing Redis when needed.
func Open(cfg config.StoreConfig) (Store, error) {
	opts := []Option{WithSQLitePath(cfg.DBPath)}
	if Driver(cfg.Driver) == DriverRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts = append(opts,
			WithRedisClient(client),
			WithRedisPrefix(cfg.Redis.Prefix),
			WithRedisTTL(cfg.Redis.TTL),
		)
	}
	return New(Driver(cfg.Driver), opts...)
}
