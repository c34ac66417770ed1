package briefing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/marketbrief/internal/authority"
	"github.com/hitoshi/marketbrief/internal/cache"
	"github.com/hitoshi/marketbrief/internal/fetcher"
	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/scoring"
)

type mockFetcher struct {
	kind      model.SourceKind
	sourceID  string
	items     []model.ContentItem
	err       error
	callCount atomic.Int64
}

func (m *mockFetcher) Kind() model.SourceKind { return m.kind }
func (m *mockFetcher) SourceID() string       { return m.sourceID }

func (m *mockFetcher) Fetch(_ context.Context, _ model.Timeframe, _ []string) ([]model.ContentItem, error) {
	m.callCount.Add(1)
	return m.items, m.err
}

type mockGuard struct {
	mu     sync.Mutex
	denied map[string]bool
}

func (m *mockGuard) TryAcquire(sourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.denied[sourceID]
}

type mockArchiver struct {
	mu    sync.Mutex
	saved []*model.Snapshot
	err   error
}

func (m *mockArchiver) SaveSnapshot(_ context.Context, snapshot *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, snapshot)
	return m.err
}

type mockMetrics struct {
	mu          sync.Mutex
	successes   int
	failures    map[string]int
	cacheHits   int
	cacheMisses int
	snapshots   int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{failures: make(map[string]int)}
}

func (m *mockMetrics) RecordFetchSuccess(_ model.SourceKind, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
}

func (m *mockMetrics) RecordFetchFailure(_ model.SourceKind, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[reason]++
}

func (m *mockMetrics) RecordFetchLatency(_ time.Duration) {}

func (m *mockMetrics) RecordCacheHit(_ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

func (m *mockMetrics) RecordCacheMiss(_ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMisses++
}

func (m *mockMetrics) RecordSnapshotBuilt(_ time.Duration, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots++
}

func newTestScorer(t *testing.T) *scoring.Scorer {
	t.Helper()
	scorer, err := scoring.NewScorer(scoring.DefaultConfig(), authority.NewTable(nil))
	if err != nil {
		t.Fatalf("failed to create scorer: %v", err)
	}
	return scorer
}

func recentItem(id, title, source string, kind model.SourceKind) model.ContentItem {
	return model.ContentItem{
		ID:         id,
		Title:      title,
		SourceName: source,
		SourceKind: kind,
		Timestamp:  time.Now().UTC().Add(-1 * time.Hour),
	}
}

func TestBuildSnapshot_AllSourcesSucceed_MergesIntoOneSnapshot(t *testing.T) {
	newsFetcher := &mockFetcher{
		kind:     model.SourceKindNews,
		sourceID: "rss:news",
		items: []model.ContentItem{
			recentItem("n1", "Apple beats earnings expectations", "Bloomberg", model.SourceKindNews),
		},
	}
	podcastFetcher := &mockFetcher{
		kind:     model.SourceKindPodcast,
		sourceID: "rss:podcast",
		items: []model.ContentItem{
			recentItem("p1", "Fed interest rate outlook discussed", "MarketWatch", model.SourceKindPodcast),
		},
	}

	archiver := &mockArchiver{}
	metrics := newMockMetrics()
	memCache := cache.NewMemoryCache(time.Minute)
	defer memCache.Stop()

	svc := NewService(
		[]fetcher.Fetcher{newsFetcher, podcastFetcher},
		newTestScorer(t),
		memCache,
		&mockGuard{},
		archiver,
		metrics,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{},
	)

	snapshot, err := svc.BuildSnapshot(context.Background(), Request{Timeframe: model.TimeframeToday})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snapshot.ID == "" {
		t.Error("snapshot ID should be assigned")
	}
	if snapshot.SourceBreakdown[model.SourceKindNews] != 1 {
		t.Errorf("news count = %d, want 1", snapshot.SourceBreakdown[model.SourceKindNews])
	}
	if snapshot.SourceBreakdown[model.SourceKindPodcast] != 1 {
		t.Errorf("podcast count = %d, want 1", snapshot.SourceBreakdown[model.SourceKindPodcast])
	}
	if len(archiver.saved) != 1 {
		t.Fatalf("archived snapshots = %d, want 1", len(archiver.saved))
	}
	if archiver.saved[0].ID != snapshot.ID {
		t.Error("archived snapshot should match the returned one")
	}
	if metrics.successes != 2 {
		t.Errorf("fetch successes = %d, want 2", metrics.successes)
	}
}

func TestBuildSnapshot_OneSourceFails_OthersStillIncluded(t *testing.T) {
	newsFetcher := &mockFetcher{
		kind:     model.SourceKindNews,
		sourceID: "rss:news",
		items: []model.ContentItem{
			recentItem("n1", "Merger announced in tech sector", "Reuters", model.SourceKindNews),
		},
	}
	emailFetcher := &mockFetcher{
		kind:     model.SourceKindEmail,
		sourceID: "gmail:inbox",
		err:      errors.New("gmail api unavailable"),
	}

	metrics := newMockMetrics()
	memCache := cache.NewMemoryCache(time.Minute)
	defer memCache.Stop()

	svc := NewService(
		[]fetcher.Fetcher{newsFetcher, emailFetcher},
		newTestScorer(t),
		memCache,
		&mockGuard{},
		nil,
		metrics,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{},
	)

	snapshot, err := svc.BuildSnapshot(context.Background(), Request{Timeframe: model.TimeframeToday})
	if err != nil {
		t.Fatalf("a single source failure should not fail the snapshot: %v", err)
	}

	if snapshot.SourceBreakdown[model.SourceKindNews] != 1 {
		t.Errorf("news count = %d, want 1", snapshot.SourceBreakdown[model.SourceKindNews])
	}
	if snapshot.SourceBreakdown[model.SourceKindEmail] != 0 {
		t.Errorf("email count = %d, want 0", snapshot.SourceBreakdown[model.SourceKindEmail])
	}
	if metrics.failures["fetch_error"] != 1 {
		t.Errorf("fetch_error count = %d, want 1", metrics.failures["fetch_error"])
	}
}

func TestBuildSnapshot_RateLimited_SourceSkippedWithoutFetch(t *testing.T) {
	newsFetcher := &mockFetcher{
		kind:     model.SourceKindNews,
		sourceID: "rss:news",
		items: []model.ContentItem{
			recentItem("n1", "Quarterly revenue forecast", "WSJ", model.SourceKindNews),
		},
	}

	metrics := newMockMetrics()
	memCache := cache.NewMemoryCache(time.Minute)
	defer memCache.Stop()

	svc := NewService(
		[]fetcher.Fetcher{newsFetcher},
		newTestScorer(t),
		memCache,
		&mockGuard{denied: map[string]bool{"rss:news": true}},
		nil,
		metrics,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{},
	)

	snapshot, err := svc.BuildSnapshot(context.Background(), Request{Timeframe: model.TimeframeToday})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if newsFetcher.callCount.Load() != 0 {
		t.Errorf("fetch call count = %d, want 0 when rate limited", newsFetcher.callCount.Load())
	}
	if snapshot.SourceBreakdown[model.SourceKindNews] != 0 {
		t.Errorf("news count = %d, want 0", snapshot.SourceBreakdown[model.SourceKindNews])
	}
	if metrics.failures["rate_limited"] != 1 {
		t.Errorf("rate_limited count = %d, want 1", metrics.failures["rate_limited"])
	}
}

func TestBuildSnapshot_SecondCallWithinTTL_ServedFromCache(t *testing.T) {
	newsFetcher := &mockFetcher{
		kind:     model.SourceKindNews,
		sourceID: "rss:news",
		items: []model.ContentItem{
			recentItem("n1", "Dividend increase announced", "Bloomberg", model.SourceKindNews),
		},
	}

	metrics := newMockMetrics()
	memCache := cache.NewMemoryCache(time.Minute)
	defer memCache.Stop()

	svc := NewService(
		[]fetcher.Fetcher{newsFetcher},
		newTestScorer(t),
		memCache,
		&mockGuard{},
		nil,
		metrics,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{FetchCacheTTL: time.Minute},
	)

	req := Request{Timeframe: model.TimeframeToday, Filters: []string{"earnings"}}
	first, err := svc.BuildSnapshot(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.BuildSnapshot(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if newsFetcher.callCount.Load() != 1 {
		t.Errorf("fetch call count = %d, want 1 (second call should hit cache)", newsFetcher.callCount.Load())
	}
	if metrics.cacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", metrics.cacheHits)
	}
	if first.SourceBreakdown[model.SourceKindNews] != second.SourceBreakdown[model.SourceKindNews] {
		t.Error("cached fetch should yield the same item counts")
	}
}

func TestBuildSnapshot_DifferentFiltersUseDifferentCacheKeys(t *testing.T) {
	newsFetcher := &mockFetcher{
		kind:     model.SourceKindNews,
		sourceID: "rss:news",
	}

	memCache := cache.NewMemoryCache(time.Minute)
	defer memCache.Stop()

	svc := NewService(
		[]fetcher.Fetcher{newsFetcher},
		newTestScorer(t),
		memCache,
		&mockGuard{},
		nil,
		newMockMetrics(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{FetchCacheTTL: time.Minute},
	)

	ctx := context.Background()
	if _, err := svc.BuildSnapshot(ctx, Request{Timeframe: model.TimeframeToday, Filters: []string{"earnings"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.BuildSnapshot(ctx, Request{Timeframe: model.TimeframeToday, Filters: []string{"fed"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if newsFetcher.callCount.Load() != 2 {
		t.Errorf("fetch call count = %d, want 2 for distinct filter sets", newsFetcher.callCount.Load())
	}
}

func TestBuildSnapshot_InvalidTimeframe_ReturnsError(t *testing.T) {
	memCache := cache.NewMemoryCache(time.Minute)
	defer memCache.Stop()

	svc := NewService(
		nil,
		newTestScorer(t),
		memCache,
		&mockGuard{},
		nil,
		newMockMetrics(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{},
	)

	_, err := svc.BuildSnapshot(context.Background(), Request{Timeframe: "fortnight"})
	if err == nil {
		t.Fatal("expected error for invalid timeframe")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
}

func TestBuildSnapshot_ArchiveFailure_DoesNotFailTheSnapshot(t *testing.T) {
	newsFetcher := &mockFetcher{
		kind:     model.SourceKindNews,
		sourceID: "rss:news",
		items: []model.ContentItem{
			recentItem("n1", "Stock buyback program", "CNBC", model.SourceKindNews),
		},
	}

	memCache := cache.NewMemoryCache(time.Minute)
	defer memCache.Stop()

	svc := NewService(
		[]fetcher.Fetcher{newsFetcher},
		newTestScorer(t),
		memCache,
		&mockGuard{},
		&mockArchiver{err: errors.New("db down")},
		newMockMetrics(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{},
	)

	snapshot, err := svc.BuildSnapshot(context.Background(), Request{Timeframe: model.TimeframeToday})
	if err != nil {
		t.Fatalf("archive failure should not fail the snapshot: %v", err)
	}
	if snapshot.SourceBreakdown[model.SourceKindNews] != 1 {
		t.Errorf("news count = %d, want 1", snapshot.SourceBreakdown[model.SourceKindNews])
	}
}

func TestFetchCacheKey_NormalizesFilterOrderAndCase(t *testing.T) {
	a := fetchCacheKey("rss:news", model.TimeframeToday, []string{"Fed", " earnings "})
	b := fetchCacheKey("rss:news", model.TimeframeToday, []string{"earnings", "fed"})
	if a != b {
		t.Errorf("normalized keys should match: %q vs %q", a, b)
	}

	c := fetchCacheKey("rss:news", model.TimeframeWeek, []string{"earnings", "fed"})
	if a == c {
		t.Error("different timeframes should produce different keys")
	}
}
