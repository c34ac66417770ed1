// Package app はアプリケーションの初期化・依存関係のワイヤリング・起動を行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/marketbrief/internal/auth"
	"github.com/hitoshi/marketbrief/internal/authority"
	"github.com/hitoshi/marketbrief/internal/briefing"
	"github.com/hitoshi/marketbrief/internal/cache"
	"github.com/hitoshi/marketbrief/internal/config"
	"github.com/hitoshi/marketbrief/internal/database"
	"github.com/hitoshi/marketbrief/internal/fetcher"
	"github.com/hitoshi/marketbrief/internal/handler"
	"github.com/hitoshi/marketbrief/internal/logger"
	"github.com/hitoshi/marketbrief/internal/metrics"
	"github.com/hitoshi/marketbrief/internal/middleware"
	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/ratelimit"
	"github.com/hitoshi/marketbrief/internal/repository"
	"github.com/hitoshi/marketbrief/internal/scoring"
	"github.com/hitoshi/marketbrief/internal/security"
	"github.com/hitoshi/marketbrief/internal/worker/cleanup"
	"github.com/hitoshi/marketbrief/internal/worker/refresh"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDATABASE_URLが設定されている場合のみDB接続を開く。
// 未設定の場合はnilを返し、永続化機能を無効化して起動を続行する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL is not set, snapshot persistence is disabled")
		return nil, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// buildScoringConfig は環境変数の値でスコアリング設定を構築する。
// 未設定の項目は組み込みデフォルトを使用する。
func buildScoringConfig(cfg *config.Config) scoring.Config {
	sc := scoring.DefaultConfig()
	sc.Weights = scoring.Weights{
		Tags:      cfg.WeightTags,
		Symbols:   cfg.WeightSymbols,
		Authority: cfg.WeightAuthority,
		Recency:   cfg.WeightRecency,
	}
	if cfg.HasCustomKeywordTiers() {
		sc.KeywordTiers.High = cfg.KeywordTiersHigh
		sc.KeywordTiers.Medium = cfg.KeywordTiersMedium
		sc.KeywordTiers.Low = cfg.KeywordTiersLow
	}
	if len(cfg.MajorSymbols) > 0 {
		sc.MajorSymbols = cfg.MajorSymbols
	}
	sc.PositiveWords = cfg.PositiveWords
	sc.NegativeWords = cfg.NegativeWords
	sc.RecencyWindowHours = cfg.RecencyWindowHours
	sc.AlertThreshold = cfg.AlertThreshold
	return sc
}

// buildFetchers は設定からフェッチャー群を構築する。
// フィード未設定・Gmail未設定のソースは単純にスキップされる。
func buildFetchers(cfg *config.Config, log *slog.Logger) []fetcher.Fetcher {
	ssrfGuard := security.NewSSRFGuard()
	cleaner := security.NewTextCleaner()

	var fetchers []fetcher.Fetcher
	for _, feed := range cfg.NewsFeeds {
		fetchers = append(fetchers, fetcher.NewRSSFetcher(
			model.SourceKindNews, feed.Name, feed.URL,
			ssrfGuard, cleaner, log, cfg.FetchTimeout, cfg.FetchMaxSize,
		))
	}
	for _, feed := range cfg.PodcastFeeds {
		fetchers = append(fetchers, fetcher.NewRSSFetcher(
			model.SourceKindPodcast, feed.Name, feed.URL,
			ssrfGuard, cleaner, log, cfg.FetchTimeout, cfg.FetchMaxSize,
		))
	}
	if cfg.GmailEnabled() {
		tokens := auth.NewGmailTokenSource(auth.GmailTokenConfig{
			ClientID:     cfg.GmailClientID,
			ClientSecret: cfg.GmailClientSecret,
			RefreshToken: cfg.GmailRefreshToken,
		})
		fetchers = append(fetchers, fetcher.NewGmailFetcher(tokens, cleaner, log, cfg.FetchTimeout))
	}
	return fetchers
}

// buildCache はRedisが設定されていればRedisキャッシュ、
// なければインメモリキャッシュを返す。
func buildCache(cfg *config.Config, log *slog.Logger) cache.Cache {
	if cfg.RedisAddr != "" {
		slog.Info("using redis cache", slog.String("addr", cfg.RedisAddr))
		return cache.NewRedisCache(cfg.RedisAddr, log)
	}
	return cache.NewMemoryCache(time.Minute)
}

// briefingDeps はスナップショット構築サービスと関連コンポーネントを束ねる。
type briefingDeps struct {
	service      *briefing.Service
	authoritySvc *authority.Service
	snapshotRepo *repository.PostgresSnapshotRepo
	collector    *metrics.Collector
	registry     *prometheus.Registry
}

// buildBriefing は設定からスナップショット構築サービス一式をワイヤリングする。
// dbがnilの場合、スナップショット保存と権威スコア永続化は無効になる。
func buildBriefing(cfg *config.Config, db *sql.DB) (*briefingDeps, error) {
	log := slog.Default()

	// 1. 権威テーブル（設定由来の上書きを適用し、永続化済みの値を復元する）
	table := authority.NewTable(cfg.AuthorityOverrides)
	var overrideStore authority.OverrideStore
	if db != nil {
		overrideStore = repository.NewPostgresAuthorityRepo(db)
	}
	authoritySvc := authority.NewService(table, overrideStore, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := authoritySvc.Restore(ctx); err != nil {
		// 復元失敗は設定由来の値だけで続行する
		slog.Warn("failed to restore authority overrides", slog.String("error", err.Error()))
	}

	// 2. スコアラー（設定の形状エラーはここでfail-fast）
	scorer, err := scoring.NewScorer(buildScoringConfig(cfg), table)
	if err != nil {
		return nil, fmt.Errorf("failed to build scorer: %w", err)
	}

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. フェッチャー・キャッシュ・呼び出し予算
	fetchers := buildFetchers(cfg, log)
	if len(fetchers) == 0 {
		slog.Warn("no sources configured, snapshots will be empty")
	}
	fetchCache := buildCache(cfg, log)
	guard := ratelimit.NewGuard(ratelimit.Budget{
		Rate:  rate.Limit(float64(cfg.SourceBudgetPerMin) / 60.0),
		Burst: 10,
	})

	// 5. スナップショットアーカイブ
	var snapshotRepo *repository.PostgresSnapshotRepo
	var archiver briefing.SnapshotArchiver
	if db != nil {
		snapshotRepo = repository.NewPostgresSnapshotRepo(db)
		archiver = snapshotRepo
	}

	topK := make(map[model.SourceKind]int, 3)
	for _, kind := range model.AllSourceKinds() {
		topK[kind] = cfg.TopKPerKind
	}

	service := briefing.NewService(
		fetchers, scorer, fetchCache, guard, archiver, collector, log,
		briefing.Config{
			MaxConcurrentFetches: cfg.FetchMaxConcurrent,
			FetchCacheTTL:        cfg.FetchCacheTTL,
			TopKPerKind:          topK,
		},
	)

	return &briefingDeps{
		service:      service,
		authoritySvc: authoritySvc,
		snapshotRepo: snapshotRepo,
		collector:    collector,
		registry:     registry,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	deps, err := buildBriefing(cfg, db)
	if err != nil {
		return err
	}

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		SnapshotRate:    rate.Limit(float64(cfg.RateLimitSnapshot) / 60.0),
		SnapshotBurst:   cfg.RateLimitSnapshot,
		CleanupInterval: 5 * time.Minute,
	})
	defer rateLimiter.Stop()

	routerDeps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           deps.collector,
		Gatherer:          deps.registry,
		BriefingService:   deps.service,
		AuthorityService:  deps.authoritySvc,
	}
	if deps.snapshotRepo != nil {
		routerDeps.SnapshotStore = deps.snapshotRepo
	}

	router := handler.NewRouter(routerDeps)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // スナップショット構築は全ソースのフェッチを伴う
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// スナップショットの定期リフレッシュと保持期限切れ行のクリーンアップを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	deps, err := buildBriefing(cfg, db)
	if err != nil {
		return err
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("refresh_interval", cfg.RefreshInterval),
	)

	// クリーンアップジョブを日次でバックグラウンド実行（DBなしではスキップ）
	if db != nil {
		cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
		cleanupJob.RetentionDays = cfg.SnapshotRetentionDays

		go func() {
			// 起動直後に1回実行
			if err := cleanupJob.Run(ctx); err != nil {
				slog.Error("cleanup job failed", slog.String("error", err.Error()))
			}

			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := cleanupJob.Run(ctx); err != nil {
						slog.Error("cleanup job failed", slog.String("error", err.Error()))
					}
				}
			}
		}()
	}

	// リフレッシュワーカーをメインgoroutineで実行（ブロッキング）
	refresher := refresh.NewRefresher(deps.service, slog.Default(), nil, nil)
	refresher.Start(ctx, cfg.RefreshInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
