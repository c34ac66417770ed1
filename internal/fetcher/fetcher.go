// Package fetcher は各ソース種別からのコンテンツ取得を提供する。
// フェッチャーはスコア前の生アイテムを返し、派生フィールドには触れない。
// 部分的な失敗時は取得できた分のアイテムとエラーの両方を返す。
// 呼び出し側はフェッチ失敗を「そのソースからの0件」として扱い、
// スナップショット全体を失敗させてはならない。
package fetcher

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/hitoshi/marketbrief/internal/model"
)

// Fetcher は1ソース分のコンテンツ取得インターフェース。
type Fetcher interface {
	// Kind はこのフェッチャーが供給するソース種別を返す。
	Kind() model.SourceKind
	// SourceID はレート制限・キャッシュキー用のソース識別子を返す
	// （例: "news:bloomberg"）。
	SourceID() string
	// Fetch はタイムフレーム内のアイテムを取得する。
	// filtersは任意のキーワード絞り込みで、実装ごとに解釈が異なる。
	Fetch(ctx context.Context, tf model.Timeframe, filters []string) ([]model.ContentItem, error)
}

// stableID はURLやGUIDから安定したアイテムIDを生成する。
// 同一コンテンツの再フェッチで同じIDになることが要件。
func stableID(prefix, key string) string {
	h := fnv.New64a()
	h.Write([]byte(key))
	return prefix + ":" + hexDigest(h.Sum64())
}

func hexDigest(v uint64) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// matchesFilters はフィルタ未指定なら常にtrue、指定時はタイトルまたは本文が
// いずれかのフィルタ語を含む場合にtrueを返す（ケース非依存）。
func matchesFilters(title, body string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	haystack := strings.ToLower(title + " " + body)
	for _, f := range filters {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" && strings.Contains(haystack, f) {
			return true
		}
	}
	return false
}
