// rediscache.go — общий кэш тайлов в Redis для нескольких экземпляров сервиса.
package tile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "acervo:tile:"
	// redisScanCount — размер страницы SCAN при инвалидации.
	redisScanCount = 500
)

// ConnectRedis создаёт клиента Redis из URL (redis://) или host:port.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("разбор redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisCache — кэш тайлов в Redis. TTL обеспечивает сам Redis.
// Ошибки Redis не прерывают выдачу тайла: промах и запись в лог.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache создаёт кэш поверх клиента Redis.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "tile_cache_redis")),
	}
}

func redisKey(key Key) string {
	return fmt.Sprintf("%s%d:%d:%d:%d:%d", redisKeyPrefix, key.ProductID, key.VersionStamp, key.Z, key.X, key.Y)
}

// Get возвращает тайл из Redis.
func (c *RedisCache) Get(ctx context.Context, key Key) ([]byte, bool) {
	data, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Ошибка чтения тайла из Redis",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
		cacheMissesTotal.Inc()
		return nil, false
	}
	cacheHitsTotal.Inc()
	if data == nil {
		data = []byte{}
	}
	return data, true
}

// Set сохраняет тайл с TTL.
func (c *RedisCache) Set(ctx context.Context, key Key, data []byte) {
	if err := c.client.Set(ctx, redisKey(key), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Ошибка записи тайла в Redis",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
	}
}

// InvalidateProduct удаляет тайлы продукта всех версий.
func (c *RedisCache) InvalidateProduct(ctx context.Context, productID int64) {
	pattern := fmt.Sprintf("%s%d:*", redisKeyPrefix, productID)

	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, redisScanCount).Result()
		if err != nil {
			c.logger.Error("Ошибка инвалидации тайлов в Redis",
				slog.Int64("product_id", productID),
				slog.String("error", err.Error()),
			)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.Error("Ошибка удаления тайлов из Redis",
					slog.Int64("product_id", productID),
					slog.String("error", err.Error()),
				)
				return
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Debug("Тайлы продукта удалены из Redis",
		slog.Int64("product_id", productID),
		slog.Int("removed", removed),
	)
}

// Ping проверяет доступность Redis (для readiness).
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
