// Package scoring はコンテンツアイテムの関連度スコアリングを提供する。
// スコアリングは決定的な純関数で、同一入力に対して常に同一の結果を返す。
// 現在時刻は呼び出し側から渡すため、テストとアグリゲーターはスコアリングを
// 参照透過な変換として扱える。
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/signal"
)

// デフォルト設定値。重みの正当性だけが不変条件で、値自体はチューニング対象。
const (
	DefaultWeightTags      = 35.0
	DefaultWeightSymbols   = 35.0
	DefaultWeightAuthority = 20.0
	DefaultWeightRecency   = 10.0

	DefaultRecencyWindowHours = 48
	DefaultAlertThreshold     = 80
)

// Weights は各サブスコアの重み。正の数であれば合計が100である必要はなく、
// 正規化平均で合成されるため任意のスケールで指定できる。
type Weights struct {
	Tags      float64
	Symbols   float64
	Authority float64
	Recency   float64
}

// DefaultWeights はデフォルトの重み（35/35/20/10）を返す。
func DefaultWeights() Weights {
	return Weights{
		Tags:      DefaultWeightTags,
		Symbols:   DefaultWeightSymbols,
		Authority: DefaultWeightAuthority,
		Recency:   DefaultWeightRecency,
	}
}

// Config はスコアラーの設定。
type Config struct {
	Weights            Weights
	KeywordTiers       signal.KeywordTiers
	MajorSymbols       []string
	PositiveWords      []string
	NegativeWords      []string
	RecencyWindowHours float64
	AlertThreshold     float64
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		KeywordTiers:       signal.DefaultKeywordTiers(),
		MajorSymbols:       signal.DefaultMajorSymbols(),
		RecencyWindowHours: DefaultRecencyWindowHours,
		AlertThreshold:     DefaultAlertThreshold,
	}
}

// Validate は設定の形状を検証する。
// データ品質の問題はスコアリング中に局所的に縮退させるが、
// 設定の形状エラーは無意味なスコアを量産する前に起動時点で弾く。
func (c Config) Validate() error {
	if c.Weights.Tags <= 0 || c.Weights.Symbols <= 0 || c.Weights.Authority <= 0 || c.Weights.Recency <= 0 {
		return model.NewInvalidConfigError(fmt.Sprintf(
			"重みはすべて正の数である必要があります (tags=%v symbols=%v authority=%v recency=%v)",
			c.Weights.Tags, c.Weights.Symbols, c.Weights.Authority, c.Weights.Recency))
	}
	if c.KeywordTiers.Empty() {
		return model.NewInvalidConfigError("キーワード階層がすべて空です")
	}
	if c.RecencyWindowHours <= 0 {
		return model.NewInvalidConfigError(fmt.Sprintf("recencyWindowHoursは正の数である必要があります: %v", c.RecencyWindowHours))
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 100 {
		return model.NewInvalidConfigError(fmt.Sprintf("alertThresholdは0〜100で指定してください: %v", c.AlertThreshold))
	}
	return nil
}

// AuthorityLookup はソース名から権威スコア（0〜100）を引くインターフェース。
// 実装は並行読み取りに対して安全でなければならない。
type AuthorityLookup interface {
	Lookup(sourceName string) int
}

// Result は1アイテム分のスコアリング結果。
type Result struct {
	Score     float64
	Breakdown model.ScoreBreakdown
	Tags      []string
	Symbols   []string
	Sentiment model.Sentiment
}

// Scorer はテキストシグナル・ソース権威・新しさを1つの0〜100スコアに
// 合成する。構築後は不変で、並行呼び出しに対して安全
// （権威テーブル側のロックを除きロックフリー）。
type Scorer struct {
	cfg       Config
	extractor *signal.Extractor
	authority AuthorityLookup
}

// NewScorer はScorerを生成する。設定の形状が不正な場合はエラーを返す。
func NewScorer(cfg Config, table AuthorityLookup) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{
		cfg:       cfg,
		extractor: signal.NewExtractor(cfg.KeywordTiers, cfg.MajorSymbols, cfg.PositiveWords, cfg.NegativeWords),
		authority: table,
	}, nil
}

// AlertThreshold は設定済みのアラート閾値を返す。
func (s *Scorer) AlertThreshold() float64 {
	return s.cfg.AlertThreshold
}

// Score はタイトル・本文・ソース名・タイムスタンプから関連度スコアを計算する。
// nowは呼び出し側の基準時刻で、スコアリング全体で時計を読むのはこの比較の
// 1回だけ。timestampがゼロ値（パース失敗）の場合、recencyサブスコアは
// エラーではなく0に縮退する。
func (s *Scorer) Score(title, body, sourceName string, timestamp, now time.Time) Result {
	sig := s.extractor.Extract(title, body)
	authorityScore := float64(s.authority.Lookup(sourceName))
	recencyScore := s.recencySubscore(timestamp, now)

	breakdown := model.ScoreBreakdown{
		Tags:      sig.TagScore,
		Symbols:   sig.SymbolScore,
		Authority: authorityScore,
		Recency:   recencyScore,
	}

	return Result{
		Score:     s.combine(breakdown),
		Breakdown: breakdown,
		Tags:      sig.Tags,
		Symbols:   sig.Symbols,
		Sentiment: sig.Sentiment,
	}
}

// ScoreItem はアイテムの派生フィールドを計算結果で上書きしたコピーを返す。
// 入力に既存のスコアが入っていても常に再計算する（冪等な再スコアリング）。
func (s *Scorer) ScoreItem(item model.ContentItem, now time.Time) model.ContentItem {
	res := s.Score(item.Title, item.Body, item.SourceName, item.Timestamp, now)
	item.Score = res.Score
	item.Tags = res.Tags
	item.Symbols = res.Symbols
	item.Sentiment = res.Sentiment
	item.Breakdown = res.Breakdown
	return item
}

// recencySubscore は指数減衰による新しさサブスコアを計算する。
// 窓内: 100 * e^(-ageHours / (W/3))。未来日付・窓外・タイムスタンプ不明は
// いずれも0（エラーにしない縮退ポリシー）。
func (s *Scorer) recencySubscore(timestamp, now time.Time) float64 {
	if timestamp.IsZero() {
		return 0
	}
	age := now.Sub(timestamp)
	if age < 0 {
		return 0
	}
	ageHours := age.Hours()
	if ageHours > s.cfg.RecencyWindowHours {
		return 0
	}
	return 100 * math.Exp(-ageHours/(s.cfg.RecencyWindowHours/3))
}

// combine は正規化された重み付き平均でサブスコアを合成する。
// 生の重み付き和ではなく平均を使うことで、重みの設定値に依らず
// 結果が0〜100に収まり、各要素の寄与が設定比率に比例する。
func (s *Scorer) combine(b model.ScoreBreakdown) float64 {
	w := s.cfg.Weights
	totalWeight := w.Tags + w.Symbols + w.Authority + w.Recency

	weighted := b.Tags/100*w.Tags +
		b.Symbols/100*w.Symbols +
		b.Authority/100*w.Authority +
		b.Recency/100*w.Recency

	score := 100 * weighted / totalWeight
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
