// Package refresh はスナップショットのバックグラウンド事前構築を提供する。
// 定期ティッカーで各タイムフレームのスナップショットを構築しておくことで、
// フェッチキャッシュを温めつつ履歴テーブルに定点観測データを蓄積する。
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/marketbrief/internal/briefing"
	"github.com/hitoshi/marketbrief/internal/model"
)

// SnapshotBuilder はスナップショット構築の実行インターフェース。
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context, req briefing.Request) (*model.Snapshot, error)
}

// Refresher はスナップショットの定期構築を行うワーカー。
// タイムフレームごとに1件ずつ順次構築する。並列制御はbriefing側の
// semaphoreが担うため、ここでは多重化しない。
type Refresher struct {
	builder    SnapshotBuilder
	logger     *slog.Logger
	timeframes []model.Timeframe
	filters    []string
}

// NewRefresher はRefresherの新しいインスタンスを生成する。
// timeframesが空の場合は全タイムフレームを対象とする。
func NewRefresher(builder SnapshotBuilder, logger *slog.Logger, timeframes []model.Timeframe, filters []string) *Refresher {
	if len(timeframes) == 0 {
		timeframes = []model.Timeframe{model.TimeframeToday, model.TimeframeWeek}
	}
	return &Refresher{
		builder:    builder,
		logger:     logger,
		timeframes: timeframes,
		filters:    filters,
	}
}

// Start は指定間隔のティッカーでワーカーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Refresher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("リフレッシュワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("timeframe_count", len(r.timeframes)),
	)

	// 起動直後に1回実行
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("リフレッシュサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("リフレッシュワーカーを停止しました")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("リフレッシュサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は全タイムフレームのスナップショットを1回ずつ構築する。
// 1タイムフレームの失敗は残りをブロックせず、全失敗をまとめて返す。
func (r *Refresher) RunOnce(ctx context.Context) error {
	start := time.Now()
	var errs []error

	for _, tf := range r.timeframes {
		snapshot, err := r.builder.BuildSnapshot(ctx, briefing.Request{
			Timeframe: tf,
			Filters:   r.filters,
		})
		if err != nil {
			r.logger.Error("スナップショットの事前構築に失敗しました",
				slog.String("timeframe", string(tf)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		r.logger.Info("スナップショットを事前構築しました",
			slog.String("timeframe", string(tf)),
			slog.String("snapshot_id", snapshot.ID),
		)
	}

	r.logger.Info("リフレッシュサイクルが完了しました",
		slog.Int("timeframe_count", len(r.timeframes)),
		slog.Int("failed_count", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(errs...)
}
