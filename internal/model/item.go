// Package model はドメインモデルを定義する。
package model

import "time"

// SourceKind はコンテンツの取得元カテゴリを表す閉じた列挙型。
// news / podcast / email の3種類のみが有効。
type SourceKind string

const (
	// SourceKindNews はニュース記事（RSS/APIフィード）を表す。
	SourceKindNews SourceKind = "news"
	// SourceKindPodcast はポッドキャストエピソードを表す。
	SourceKindPodcast SourceKind = "podcast"
	// SourceKindEmail はメール（ニュースレター等）を表す。
	SourceKindEmail SourceKind = "email"
)

// AllSourceKinds は全ソース種別を固定順で返す。
// sourceBreakdownの集計順など、出力の決定性が必要な箇所で使用する。
func AllSourceKinds() []SourceKind {
	return []SourceKind{SourceKindNews, SourceKindPodcast, SourceKindEmail}
}

// Valid はソース種別が定義済みの値かどうかを返す。
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindNews, SourceKindPodcast, SourceKindEmail:
		return true
	}
	return false
}

// Sentiment はテキストの粗いセンチメント分類を表す閉じた列挙型。
// 未判定の場合はSentimentUnsetを使用する。自由文字列は許容しない。
type Sentiment string

const (
	// SentimentUnset はセンチメント未判定を表す（スコアリング前の状態）。
	SentimentUnset Sentiment = ""
	// SentimentPositive はポジティブ判定を表す。
	SentimentPositive Sentiment = "positive"
	// SentimentNegative はネガティブ判定を表す。
	SentimentNegative Sentiment = "negative"
	// SentimentNeutral はニュートラル判定を表す。
	SentimentNeutral Sentiment = "neutral"
)

// ContentItem は任意のソースから取得した1件のコンテンツを表す。
//
// Title/Body/Timestamp等の生フィールドはフェッチャーが設定し、以降不変。
// Score/Tags/Symbols/Sentimentは派生フィールドであり、常にスコアラーが
// 再計算して上書きする。入力に値が入っていても信頼してはならない
// （冪等な再スコアリングを保証するため）。
type ContentItem struct {
	ID           string
	SourceKind   SourceKind
	SourceName   string
	SourceURL    string
	SourceAuthor string
	Timestamp    time.Time // ゼロ値はタイムスタンプ不明（パース失敗）を表す
	Title        string
	Body         string

	// --- 以下はスコアラーが毎回計算する派生フィールド ---

	Score     float64 // 0〜100
	Tags      []string
	Symbols   []string
	Sentiment Sentiment
	Breakdown ScoreBreakdown
}

// ScoreBreakdown はスコアの内訳（重み付け前の各サブスコア）を保持する。
// 説明可能性とデバッグのために公開する。各値は0〜100。
type ScoreBreakdown struct {
	Tags      float64
	Symbols   float64
	Authority float64
	Recency   float64
}
