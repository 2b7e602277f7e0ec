package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

// RedisCache keeps the newest point per (source, symbol) under
// latest:<source>:<symbol>.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Log
}

func NewRedisCache(ctx context.Context, cfg appconfig.RedisConfig, log *logger.Log) (*RedisCache, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.WithComponent("redis_writer").WithFields(logger.Fields{
		"addr": cfg.Addr,
		"ttl":  cfg.TTL.String(),
	}).Info("redis cache initialized")

	return &RedisCache{client: client, ttl: cfg.TTL, log: log}, nil
}

func latestKey(source, symbol string) string {
	return fmt.Sprintf("latest:%s:%s", source, symbol)
}

// latestPerKey keeps the newest point for every cache key in the batch.
func latestPerKey(points []models.DataPoint) map[string]models.DataPoint {
	latest := make(map[string]models.DataPoint, len(points))
	for _, p := range points {
		key := latestKey(p.Source, p.Symbol)
		if cur, ok := latest[key]; ok && cur.Timestamp.After(p.Timestamp) {
			continue
		}
		latest[key] = p
	}
	return latest
}

func (c *RedisCache) StoreBatch(ctx context.Context, points []models.DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	latest := latestPerKey(points)

	pipe := c.client.Pipeline()
	for key, p := range latest {
		data, err := p.MarshalRecord()
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		pipe.Set(ctx, key, data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("update latest cache: %w", err)
	}

	logger.IncrementSinkWrite("redis", len(latest))
	return nil
}

func (c *RedisCache) Close() error {
	c.log.WithComponent("redis_writer").Debug("closing redis client")
	return c.client.Close()
}
