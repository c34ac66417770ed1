package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache はRedisを使ったTTL付きキャッシュ。
// 複数インスタンスでフェッチ結果を共有する構成向け。
// Redisの障害はキャッシュミスとして扱い、呼び出し側の処理は継続する。
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache はRedisCacheを生成する。接続確認として一度Pingを行い、
// 失敗した場合は警告ログのみ出して続行する（以降のGetは全てミスになる）。
func NewRedisCache(addr string, logger *slog.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redisへの接続確認に失敗しました",
			slog.String("addr", addr),
			slog.String("error", err.Error()),
		)
	}

	return &RedisCache{client: client, logger: logger}
}

// Get はキーに対応する値を返す。未登録・期限切れ・Redis障害はすべてミス扱い。
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Redisからの取得に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return value, true
}

// Set はキーに値をTTL付きで登録する。失敗は警告ログのみで無視する。
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("Redisへの書き込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Close はRedis接続を閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}
