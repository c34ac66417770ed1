package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresAuthorityRepo はPostgreSQLを使用した権威スコア上書きリポジトリ。
type PostgresAuthorityRepo struct {
	db *sql.DB
}

// NewPostgresAuthorityRepo はPostgresAuthorityRepoを生成する。
func NewPostgresAuthorityRepo(db *sql.DB) *PostgresAuthorityRepo {
	return &PostgresAuthorityRepo{db: db}
}

// UpsertOverride はソース名の権威スコア上書きを冪等に保存する。
// ソース名は小文字に正規化して格納する。
func (r *PostgresAuthorityRepo) UpsertOverride(ctx context.Context, sourceName string, score int) error {
	name := strings.ToLower(strings.TrimSpace(sourceName))
	if name == "" {
		return fmt.Errorf("ソース名が空です")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO authority_overrides (source_name, score, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (source_name)
		 DO UPDATE SET score = EXCLUDED.score, updated_at = now()`,
		name, score,
	)
	if err != nil {
		return fmt.Errorf("権威スコアの保存に失敗しました: %w", err)
	}
	return nil
}

// ListOverrides は全上書きエントリを返す。
func (r *PostgresAuthorityRepo) ListOverrides(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT source_name, score FROM authority_overrides ORDER BY source_name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("権威スコア一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]int)
	for rows.Next() {
		var name string
		var score int
		if err := rows.Scan(&name, &score); err != nil {
			return nil, fmt.Errorf("権威スコア行の読み取りに失敗しました: %w", err)
		}
		overrides[name] = score
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("権威スコア一覧の走査に失敗しました: %w", err)
	}
	return overrides, nil
}

// compile-time interface check
var _ AuthorityRepository = (*PostgresAuthorityRepo)(nil)
