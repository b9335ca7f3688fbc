package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bassista/go_tilecache/internal/logger"
	"github.com/bassista/go_tilecache/internal/tile"
)

const redisKeyPrefix = "tilecache:tile:"

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache shares hot tiles between processes through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

// redisEntry is the stored value; Img is base64 encoded by encoding/json.
type redisEntry struct {
	Format string         `json:"format"`
	Type   tile.MapType   `json:"type"`
	Set    tile.NullSetID `json:"set"`
	Img    []byte         `json:"img"`
}

// NewRedisCache connects to Redis and pings it before returning.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	log := logger.WithComponent("cache").WithField("backend", "redis")
	log.Infof("connected to redis at %s (db %d, ttl %s)", cfg.Addr, cfg.DB, cfg.TTL)
	return &RedisCache{client: client, ttl: cfg.TTL, log: log}, nil
}

func redisKey(hash string) string { return redisKeyPrefix + hash }

func (c *RedisCache) Get(ctx context.Context, hash string) (*tile.CacheTile, error) {
	data, err := c.client.Get(ctx, redisKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", hash, err)
	}

	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// a corrupt entry is treated as a miss and dropped
		c.log.Warnf("dropping undecodable entry %s: %v", hash, err)
		_ = c.client.Del(ctx, redisKey(hash)).Err()
		return nil, ErrMiss
	}
	c.log.Tracef("hit %s", hash)
	return tile.NewCacheTile(hash, entry.Img, entry.Format, entry.Type, entry.Set), nil
}

func (c *RedisCache) Put(ctx context.Context, ct *tile.CacheTile) error {
	if ct == nil || ct.Hash == "" || !ct.HasPayload() {
		return nil
	}
	data, err := json.Marshal(redisEntry{Format: ct.Format, Type: ct.Type, Set: ct.Set, Img: ct.Img})
	if err != nil {
		return fmt.Errorf("encode tile %s: %w", ct.Hash, err)
	}
	if err := c.client.Set(ctx, redisKey(ct.Hash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", ct.Hash, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, hashes ...string) error {
	if len(hashes) == 0 {
		return nil
	}
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = redisKey(h)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del %d key(s): %w", len(keys), err)
	}
	return nil
}

// Clear removes every tile key this cache owns, leaving the rest of the database alone.
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, redisKeyPrefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			removed += len(keys)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	c.log.Debugf("cleared %d key(s)", removed)
	return nil
}

func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
