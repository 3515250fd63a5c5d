package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend string
	TTL     time.Duration
	Prefix  string
}

func NewStatusCache(cfg Config, redisClient *redis.Client) StatusCache {
	switch cfg.Backend {
	case "redis":
		return NewRedisStatusCache(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		})
	default:
		return NewMemoryStatusCache(cfg.TTL)
	}
}
