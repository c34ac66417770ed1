package authority

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/marketbrief/internal/model"
)

// OverrideStore は上書きエントリの永続化インターフェース。
type OverrideStore interface {
	UpsertOverride(ctx context.Context, sourceName string, score int) error
	ListOverrides(ctx context.Context) (map[string]int, error)
}

// Service はインメモリの権威テーブルと永続化ストアを束ねる。
// 更新はテーブルに即時反映され、以降のスコアリングパスで使用される。
// storeがnilの場合は永続化をスキップする（DBなし構成用）。
type Service struct {
	table  *Table
	store  OverrideStore
	logger *slog.Logger
}

// NewService はServiceを生成する。
func NewService(table *Table, store OverrideStore, logger *slog.Logger) *Service {
	return &Service{table: table, store: store, logger: logger}
}

// Restore は永続化済みの上書きエントリをテーブルにロードする。
// 起動時に1回呼び出す。設定由来の上書きより後に適用されるため、
// 操作者がAPIで更新した値が優先される。
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	overrides, err := s.store.ListOverrides(ctx)
	if err != nil {
		return err
	}
	for name, score := range overrides {
		s.table.Set(name, score)
	}
	s.logger.Info("権威スコアの上書きを復元しました",
		slog.Int("override_count", len(overrides)),
	)
	return nil
}

// Lookup はソース名に対する現在の権威スコアを返す。
func (s *Service) Lookup(sourceName string) int {
	return s.table.Lookup(sourceName)
}

// Set はソース名の権威スコアを検証して更新し、永続化する。
// 永続化の失敗はテーブル更新を巻き戻さない。次回のSetまたは再起動時の
// Restoreで修復される。
func (s *Service) Set(ctx context.Context, sourceName string, score int) error {
	if strings.TrimSpace(sourceName) == "" {
		return model.NewInvalidAuthorityError("ソース名が空です")
	}
	if score < minScore || score > maxScore {
		return model.NewInvalidAuthorityError("スコアは0〜100で指定してください")
	}

	s.table.Set(sourceName, score)

	if s.store != nil {
		if err := s.store.UpsertOverride(ctx, sourceName, score); err != nil {
			s.logger.Error("権威スコアの永続化に失敗しました",
				slog.String("source_name", sourceName),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Overrides は現在の上書きエントリ一覧をソース名昇順で返す。
func (s *Service) Overrides() []Override {
	return s.table.Overrides()
}
