// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/marketbrief/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ブリーフィングサービスやワーカーから利用する。
type MetricsCollector interface {
	RecordFetchSuccess(kind model.SourceKind, itemCount int)
	RecordFetchFailure(kind model.SourceKind, reason string)
	RecordFetchLatency(duration time.Duration)
	RecordCacheHit(sourceID string)
	RecordCacheMiss(sourceID string)
	RecordSnapshotBuilt(duration time.Duration, itemCount int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess    *prometheus.CounterVec
	fetchFail       *prometheus.CounterVec
	fetchLatency    prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	snapshotsBuilt  prometheus.Counter
	snapshotSeconds prometheus.Histogram
	itemsAggregated prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketbrief_fetch_success_total",
			Help: "ソースフェッチ成功の合計数",
		}, []string{"kind"}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketbrief_fetch_fail_total",
			Help: "ソースフェッチ失敗の合計数",
		}, []string{"kind", "reason"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketbrief_fetch_latency_seconds",
			Help:    "ソースフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketbrief_cache_hits_total",
			Help: "フェッチキャッシュヒットの合計数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketbrief_cache_misses_total",
			Help: "フェッチキャッシュミスの合計数",
		}),
		snapshotsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketbrief_snapshots_built_total",
			Help: "構築されたスナップショットの合計数",
		}),
		snapshotSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketbrief_snapshot_build_seconds",
			Help:    "スナップショット構築の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsAggregated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketbrief_items_aggregated_total",
			Help: "集約されたアイテムの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketbrief_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.fetchLatency,
		c.cacheHits,
		c.cacheMisses,
		c.snapshotsBuilt,
		c.snapshotSeconds,
		c.itemsAggregated,
		c.httpStatus,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功とアイテム数を記録する。
func (c *Collector) RecordFetchSuccess(kind model.SourceKind, itemCount int) {
	c.fetchSuccess.WithLabelValues(string(kind)).Inc()
	c.itemsAggregated.Add(float64(itemCount))
}

// RecordFetchFailure はフェッチ失敗を理由付きで記録する。
func (c *Collector) RecordFetchFailure(kind model.SourceKind, reason string) {
	c.fetchFail.WithLabelValues(string(kind), reason).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordCacheHit はフェッチキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(sourceID string) {
	c.cacheHits.Inc()
}

// RecordCacheMiss はフェッチキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(sourceID string) {
	c.cacheMisses.Inc()
}

// RecordSnapshotBuilt はスナップショット構築の完了を記録する。
func (c *Collector) RecordSnapshotBuilt(duration time.Duration, itemCount int) {
	c.snapshotsBuilt.Inc()
	c.snapshotSeconds.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
