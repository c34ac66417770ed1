// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/marketbrief/internal/model"
)

// SnapshotRepository はスナップショット履歴の永続化インターフェース。
type SnapshotRepository interface {
	// SaveSnapshot はスナップショットを履歴に保存する。
	SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error

	// FindByID は指定IDのスナップショットを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Snapshot, error)

	// ListRecent は指定タイムフレームのスナップショットをgenerated_at降順で
	// 最大limit件取得する。timeframeが空の場合は全タイムフレームを対象とする。
	ListRecent(ctx context.Context, timeframe model.Timeframe, limit int) ([]*model.Snapshot, error)
}

// AuthorityRepository はソース権威スコア上書きの永続化インターフェース。
// 再起動後もチューニング済みの権威テーブルを復元できるようにする。
type AuthorityRepository interface {
	// UpsertOverride はソース名の権威スコア上書きを冪等に保存する。
	UpsertOverride(ctx context.Context, sourceName string, score int) error

	// ListOverrides は全上書きエントリをソース名の辞書順で返す。
	ListOverrides(ctx context.Context) (map[string]int, error)
}
