// Package briefing はスナップショット構築のオーケストレーションを提供する。
// 各ソースへのフェッチをfan-outで並列実行し、全ソースの完了を待ってから
// 1回だけ集約を行う（fan-in）。1ソースの失敗は他ソースをブロックせず、
// そのソースからの0件として扱う。部分的な結果が正常系。
package briefing

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/marketbrief/internal/aggregate"
	"github.com/hitoshi/marketbrief/internal/cache"
	"github.com/hitoshi/marketbrief/internal/fetcher"
	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/scoring"
)

// BudgetGuard は外部API呼び出し予算のインターフェース。
type BudgetGuard interface {
	TryAcquire(sourceID string) bool
}

// SnapshotArchiver はスナップショットの保存インターフェース。
type SnapshotArchiver interface {
	SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error
}

// MetricsCollector はメトリクス収集のインターフェース。
type MetricsCollector interface {
	RecordFetchSuccess(kind model.SourceKind, itemCount int)
	RecordFetchFailure(kind model.SourceKind, reason string)
	RecordFetchLatency(duration time.Duration)
	RecordCacheHit(sourceID string)
	RecordCacheMiss(sourceID string)
	RecordSnapshotBuilt(duration time.Duration, itemCount int)
}

// Request は1回のスナップショット構築のパラメータ。
type Request struct {
	Timeframe       model.Timeframe
	Filters         []string
	PrioritySymbols []string
}

// Config はサービスの動作設定。
type Config struct {
	MaxConcurrentFetches int
	FetchCacheTTL        time.Duration
	// TopKPerKind はソース種別ごとの主要イベント採用数の上書き。
	TopKPerKind map[model.SourceKind]int
}

// Service はフェッチャー群・スコアラー・キャッシュ・予算ガードを束ね、
// スナップショットの構築と保存を行う。複数のスナップショット要求から
// 並行に呼び出しても安全（可変状態は権威テーブルとキャッシュのみで、
// いずれも並行アクセスに対応している）。
type Service struct {
	fetchers []fetcher.Fetcher
	scorer   *scoring.Scorer
	cache    cache.Cache
	guard    BudgetGuard
	archiver SnapshotArchiver
	metrics  MetricsCollector
	logger   *slog.Logger
	config   Config
}

// NewService はServiceを生成する。
// archiverがnilの場合は保存をスキップする（テスト・ワーカー構成用）。
func NewService(
	fetchers []fetcher.Fetcher,
	scorer *scoring.Scorer,
	fetchCache cache.Cache,
	guard BudgetGuard,
	archiver SnapshotArchiver,
	metrics MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Service {
	if config.MaxConcurrentFetches <= 0 {
		config.MaxConcurrentFetches = 4
	}
	if config.FetchCacheTTL <= 0 {
		config.FetchCacheTTL = 5 * time.Minute
	}
	return &Service{
		fetchers: fetchers,
		scorer:   scorer,
		cache:    fetchCache,
		guard:    guard,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger,
		config:   config,
	}
}

// BuildSnapshot は全ソースからのフェッチと集約を実行し、
// 保存済みのスナップショットを返す。
// フェッチ失敗・保存失敗はスナップショット構築を失敗させない。
func (s *Service) BuildSnapshot(ctx context.Context, req Request) (*model.Snapshot, error) {
	if req.Timeframe != model.TimeframeToday && req.Timeframe != model.TimeframeWeek {
		return nil, model.NewInvalidTimeframeError(string(req.Timeframe))
	}

	start := time.Now()
	itemsByKind := s.fetchAll(ctx, req)

	now := time.Now().UTC()
	aggregator := aggregate.NewAggregator(s.scorer, aggregate.Options{
		TopKPerKind:     s.config.TopKPerKind,
		PrioritySymbols: req.PrioritySymbols,
	})
	snapshot := aggregator.Aggregate(itemsByKind, now)
	snapshot.ID = uuid.NewString()
	snapshot.Timeframe = req.Timeframe

	total := 0
	for _, count := range snapshot.SourceBreakdown {
		total += count
	}
	s.metrics.RecordSnapshotBuilt(time.Since(start), total)

	if s.archiver != nil {
		if err := s.archiver.SaveSnapshot(ctx, &snapshot); err != nil {
			s.logger.Error("スナップショットの保存に失敗しました",
				slog.String("snapshot_id", snapshot.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("スナップショットを構築しました",
		slog.String("snapshot_id", snapshot.ID),
		slog.Int("total_items", total),
		slog.Int("key_events", len(snapshot.KeyEvents)),
		slog.Int("alerts", len(snapshot.AlertItems)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &snapshot, nil
}

// fetchAll は全フェッチャーをsemaphoreパターンで並列実行し、
// ソース種別ごとのアイテムを集める。個別の失敗は空リストに縮退する。
func (s *Service) fetchAll(ctx context.Context, req Request) map[model.SourceKind][]model.ContentItem {
	type result struct {
		kind  model.SourceKind
		items []model.ContentItem
	}

	results := make(chan result, len(s.fetchers))
	sem := make(chan struct{}, s.config.MaxConcurrentFetches)
	var wg sync.WaitGroup

	for _, f := range s.fetchers {
		wg.Add(1)
		go func(f fetcher.Fetcher) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results <- result{kind: f.Kind(), items: s.fetchOne(ctx, f, req)}
		}(f)
	}

	wg.Wait()
	close(results)

	itemsByKind := make(map[model.SourceKind][]model.ContentItem)
	for _, kind := range model.AllSourceKinds() {
		itemsByKind[kind] = nil
	}
	for r := range results {
		itemsByKind[r.kind] = append(itemsByKind[r.kind], r.items...)
	}
	return itemsByKind
}

// fetchOne は1フェッチャー分の取得を実行する。
// キャッシュヒット時は外部呼び出しをスキップする。予算超過・フェッチ失敗は
// そのソースからの0件に縮退し、スナップショット全体は継続する。
func (s *Service) fetchOne(ctx context.Context, f fetcher.Fetcher, req Request) []model.ContentItem {
	key := fetchCacheKey(f.SourceID(), req.Timeframe, req.Filters)

	if data, ok := s.cache.Get(ctx, key); ok {
		var items []model.ContentItem
		if err := json.Unmarshal(data, &items); err == nil {
			s.metrics.RecordCacheHit(f.SourceID())
			return items
		}
		s.logger.Warn("キャッシュエントリのデコードに失敗しました",
			slog.String("cache_key", key),
		)
	}
	s.metrics.RecordCacheMiss(f.SourceID())

	if !s.guard.TryAcquire(f.SourceID()) {
		s.logger.Warn("呼び出し予算を超過したためフェッチをスキップします",
			slog.String("source_id", f.SourceID()),
		)
		s.metrics.RecordFetchFailure(f.Kind(), "rate_limited")
		return nil
	}

	start := time.Now()
	items, err := f.Fetch(ctx, req.Timeframe, req.Filters)
	s.metrics.RecordFetchLatency(time.Since(start))

	if err != nil {
		// 部分的な結果が返っている場合はそれを使う
		s.logger.Warn("フェッチに失敗しました",
			slog.String("source_id", f.SourceID()),
			slog.Int("partial_items", len(items)),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordFetchFailure(f.Kind(), "fetch_error")
		if len(items) == 0 {
			return nil
		}
	} else {
		s.metrics.RecordFetchSuccess(f.Kind(), len(items))
	}

	if data, err := json.Marshal(items); err == nil {
		s.cache.Set(ctx, key, data, s.config.FetchCacheTTL)
	}
	return items
}

// fetchCacheKey はフェッチ出力のキャッシュキーを生成する。
// スコア済み出力ではなく生のフェッチ出力をキャッシュするため、
// 権威テーブルや重みのチューニングは次回スコアリングに即座に反映される。
func fetchCacheKey(sourceID string, tf model.Timeframe, filters []string) string {
	normalized := make([]string, 0, len(filters))
	for _, f := range filters {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			normalized = append(normalized, f)
		}
	}
	sort.Strings(normalized)

	h := fnv.New32a()
	h.Write([]byte(strings.Join(normalized, ",")))
	return fmt.Sprintf("fetch:%s:%s:%08x", sourceID, tf, h.Sum32())
}
