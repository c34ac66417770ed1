// Package cache はTTL付きキー/バリューキャッシュを提供する。
// コアのスコアリング・集約はキャッシュなしでも動作するが、
// フェッチャーの生出力をキャッシュすることで外部APIの呼び出し回数を抑える。
// スコア済みの出力はキャッシュしない。権威テーブルや重みのチューニングを
// 次回スコアリングで即座に反映させるため、キャッシュ対象は常に生データとする。
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache はTTL付きキャッシュのインターフェース。
// Getは値と存在フラグを返す。期限切れのエントリは存在しないものとして扱う。
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// entry はメモリキャッシュの1エントリ。
type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache はプロセス内のTTL付きキャッシュ。並行アクセスに対して安全。
// 期限切れエントリはバックグラウンドループが定期的に回収する。
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	stopCh  chan struct{}
}

// NewMemoryCache はMemoryCacheを生成し、クリーンアップループを開始する。
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	c := &MemoryCache{
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
	}
	go c.cleanupLoop(cleanupInterval)
	return c
}

// Get はキーに対応する値を返す。期限切れまたは未登録の場合はfalseを返す。
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set はキーに値をTTL付きで登録する。ttlが0以下の場合は登録しない。
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Stop はクリーンアップループを停止する。
func (c *MemoryCache) Stop() {
	close(c.stopCh)
}

func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
