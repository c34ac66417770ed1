package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/marketbrief/internal/metrics"
	"github.com/hitoshi/marketbrief/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// メトリクス
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// スナップショット
	BriefingService BriefingServiceInterface
	SnapshotStore   SnapshotStoreInterface

	// 権威スコア
	AuthorityService AuthorityServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → RateLimit(General)
//
// /healthz と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	recordStatus := func(statusCode int) {}
	if deps.Metrics != nil {
		recordStatus = deps.Metrics.RecordHTTPStatus
	}

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, recordStatus))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	snapshotHandler := NewSnapshotHandler(deps.BriefingService, deps.SnapshotStore)
	authorityHandler := NewAuthorityHandler(deps.AuthorityService)

	// --- 監視用ルート（レート制限の外） ---

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.SetupMetricsRoute(deps.Gatherer))
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// スナップショット構築（全ソースのフェッチが走るため専用レート制限を追加）
		r.With(deps.RateLimiter.SnapshotMiddleware()).Get("/api/snapshot", snapshotHandler.BuildSnapshot)

		// スナップショット履歴
		r.Route("/api/snapshots", func(r chi.Router) {
			r.Get("/", snapshotHandler.ListSnapshots)
			r.Get("/{id}", snapshotHandler.GetSnapshot)
		})

		// 権威スコア管理
		r.Route("/api/authority", func(r chi.Router) {
			r.Get("/", authorityHandler.ListOverrides)

			r.Route("/{source}", func(r chi.Router) {
				r.Get("/", authorityHandler.GetScore)
				r.Put("/", authorityHandler.SetScore)
			})
		})
	})

	return r
}
