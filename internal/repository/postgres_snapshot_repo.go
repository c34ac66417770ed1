package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/marketbrief/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLを使用したスナップショットリポジトリ。
// 検索キー（id、timeframe、generated_at、summary_text）をカラムに持ち、
// シーケンス部分（主要イベント・アラート・パターン）はJSONBペイロードに格納する。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// snapshotPayload はJSONBカラムに格納するシーケンス部分。
type snapshotPayload struct {
	KeyEvents           []model.ContentItem      `json:"key_events"`
	AlertItems          []model.ContentItem      `json:"alert_items"`
	CrossSourcePatterns []string                 `json:"cross_source_patterns"`
	SourceBreakdown     map[model.SourceKind]int `json:"source_breakdown"`
}

// SaveSnapshot はスナップショットを履歴に保存する。
func (r *PostgresSnapshotRepo) SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	payload, err := json.Marshal(snapshotPayload{
		KeyEvents:           snapshot.KeyEvents,
		AlertItems:          snapshot.AlertItems,
		CrossSourcePatterns: snapshot.CrossSourcePatterns,
		SourceBreakdown:     snapshot.SourceBreakdown,
	})
	if err != nil {
		return fmt.Errorf("スナップショットのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, timeframe, generated_at, summary_text, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		snapshot.ID, string(snapshot.Timeframe), snapshot.GeneratedAt,
		snapshot.SummaryText, payload,
	)
	if err != nil {
		return fmt.Errorf("スナップショットの保存に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのスナップショットを取得する。見つからない場合はnilを返す。
func (r *PostgresSnapshotRepo) FindByID(ctx context.Context, id string) (*model.Snapshot, error) {
	snapshot := &model.Snapshot{}
	var timeframe string
	var payload []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, timeframe, generated_at, summary_text, payload
		 FROM snapshots WHERE id = $1`,
		id,
	).Scan(&snapshot.ID, &timeframe, &snapshot.GeneratedAt, &snapshot.SummaryText, &payload)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スナップショットの取得に失敗しました: %w", err)
	}

	snapshot.Timeframe = model.Timeframe(timeframe)
	if err := unmarshalPayload(payload, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ListRecent は指定タイムフレームのスナップショットをgenerated_at降順で
// 最大limit件取得する。timeframeが空の場合は全タイムフレームを対象とする。
func (r *PostgresSnapshotRepo) ListRecent(ctx context.Context, timeframe model.Timeframe, limit int) ([]*model.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, timeframe, generated_at, summary_text, payload
	          FROM snapshots
	          WHERE ($1 = '' OR timeframe = $1)
	          ORDER BY generated_at DESC
	          LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, string(timeframe), limit)
	if err != nil {
		return nil, fmt.Errorf("スナップショット一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var snapshots []*model.Snapshot
	for rows.Next() {
		snapshot := &model.Snapshot{}
		var tf string
		var payload []byte

		if err := rows.Scan(&snapshot.ID, &tf, &snapshot.GeneratedAt, &snapshot.SummaryText, &payload); err != nil {
			return nil, fmt.Errorf("スナップショット行の読み取りに失敗しました: %w", err)
		}
		snapshot.Timeframe = model.Timeframe(tf)
		if err := unmarshalPayload(payload, snapshot); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スナップショット一覧の走査に失敗しました: %w", err)
	}
	return snapshots, nil
}

func unmarshalPayload(data []byte, snapshot *model.Snapshot) error {
	var payload snapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("スナップショットペイロードのデコードに失敗しました: %w", err)
	}
	snapshot.KeyEvents = payload.KeyEvents
	snapshot.AlertItems = payload.AlertItems
	snapshot.CrossSourcePatterns = payload.CrossSourcePatterns
	snapshot.SourceBreakdown = payload.SourceBreakdown
	return nil
}

// compile-time interface check
var _ SnapshotRepository = (*PostgresSnapshotRepo)(nil)
