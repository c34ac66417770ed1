// Package ratelimit は外部プロバイダーAPIの呼び出し予算を管理する。
// プロバイダーのクォータ保護が目的であり、コアのスコアリング・集約からは
// 参照されない。予算超過時は呼び出し側がキャッシュ済みデータでの縮退を判断する。
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Budget は1ソースあたりの呼び出し予算。
type Budget struct {
	Rate  rate.Limit // 補充レート（calls/sec）
	Burst int        // バーストサイズ
}

// DefaultBudget はデフォルトの呼び出し予算を返す。
// 要件: ソースあたり30 calls/min。
func DefaultBudget() Budget {
	return Budget{
		Rate:  rate.Limit(30.0 / 60.0), // 0.5 calls/sec
		Burst: 10,
	}
}

// sourceLimiter はソースごとのリミッターと最終アクセス時刻を保持する。
type sourceLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Guard はソースIDごとの呼び出し予算を管理する。並行アクセスに対して安全。
// 長期間使われていないソースのエントリはバックグラウンドで回収する。
type Guard struct {
	budget Budget

	mu       sync.RWMutex
	limiters map[string]*sourceLimiter

	stopCh chan struct{}
}

// NewGuard は新しいGuardを生成し、期限切れエントリの
// クリーンアップゴルーチンを開始する。
func NewGuard(budget Budget) *Guard {
	if budget.Rate <= 0 {
		budget = DefaultBudget()
	}
	g := &Guard{
		budget:   budget,
		limiters: make(map[string]*sourceLimiter),
		stopCh:   make(chan struct{}),
	}
	go g.cleanupLoop(5 * time.Minute)
	return g
}

// TryAcquire はソースの呼び出し予算を1消費する。
// 予算が残っていない場合はfalseを返し、消費は行わない。
func (g *Guard) TryAcquire(sourceID string) bool {
	return g.getOrCreate(sourceID).Allow()
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (g *Guard) LimiterCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.limiters)
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (g *Guard) Stop() {
	close(g.stopCh)
}

// getOrCreate はソースのリミッターを取得または作成する。
func (g *Guard) getOrCreate(sourceID string) *rate.Limiter {
	g.mu.RLock()
	sl, exists := g.limiters[sourceID]
	g.mu.RUnlock()

	if exists {
		g.mu.Lock()
		sl.lastAccess = time.Now()
		g.mu.Unlock()
		return sl.limiter
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// ロック取得の間に他のゴルーチンが作成している可能性がある
	if sl, exists := g.limiters[sourceID]; exists {
		sl.lastAccess = time.Now()
		return sl.limiter
	}

	sl = &sourceLimiter{
		limiter:    rate.NewLimiter(g.budget.Rate, g.budget.Burst),
		lastAccess: time.Now(),
	}
	g.limiters[sourceID] = sl
	return sl.limiter
}

// cleanupLoop は一定間隔で長期間未使用のリミッターを削除する。
func (g *Guard) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-30 * time.Minute)
			g.mu.Lock()
			for id, sl := range g.limiters {
				if sl.lastAccess.Before(cutoff) {
					delete(g.limiters, id)
				}
			}
			g.mu.Unlock()
		}
	}
}
