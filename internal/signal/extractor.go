// Package signal は生テキストから構造化シグナル（タグ・ティッカー・
// センチメント）を抽出する純関数群を提供する。
// 抽出処理はI/Oを持たず、同一入力に対して常に同一出力を返す。
package signal

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hitoshi/marketbrief/internal/model"
)

// タグ階層ごとの加点。高階層4件でタグサブスコアが飽和する値に設定している。
// 正確な点数はチューニング対象であり、config経由で階層の語彙ごと差し替え可能。
const (
	pointsHighTier   = 25
	pointsMediumTier = 15
	pointsLowTier    = 8
)

// シンボルサブスコアの加点。
const (
	pointsPerSymbol  = 20
	pointsMajorBonus = 10
	subscoreMax      = 100
)

// symbolPattern は大文字1〜5文字＋任意の数字2桁までのティッカー候補にマッチする。
// 前後が英数字の場合は除外する（単語境界）。
var symbolPattern = regexp.MustCompile(`\b[A-Z]{1,5}[0-9]{0,2}\b`)

// KeywordTiers はタグ抽出用のキーワード階層を保持する。
// 各階層はケース非依存のフレーズのリスト。
type KeywordTiers struct {
	High   []string
	Medium []string
	Low    []string
}

// Empty は全階層が空かどうかを返す。
func (t KeywordTiers) Empty() bool {
	return len(t.High) == 0 && len(t.Medium) == 0 && len(t.Low) == 0
}

// Signals は1アイテム分の抽出結果を表す。
// TagScore/SymbolScoreは重み付け前のサブスコアで、いずれも0〜100。
type Signals struct {
	Tags        []string
	TagScore    float64
	Symbols     []string
	SymbolScore float64
	Sentiment   model.Sentiment
}

// Extractor はテキストシグナル抽出器。設定語彙を保持するだけで状態を持たず、
// 並行呼び出しに対して安全。
type Extractor struct {
	tiers         KeywordTiers
	majorSymbols  map[string]struct{}
	positiveWords []string
	negativeWords []string
}

// NewExtractor はExtractorを生成する。
// majorSymbolsは高流動性ティッカーのリストで、含まれるシンボルには
// サブスコアのボーナスが付く。sentimentの語彙リストが空の場合は
// 組み込みのデフォルト語彙を使用する。
func NewExtractor(tiers KeywordTiers, majorSymbols, positiveWords, negativeWords []string) *Extractor {
	majors := make(map[string]struct{}, len(majorSymbols))
	for _, s := range majorSymbols {
		majors[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	if len(positiveWords) == 0 {
		positiveWords = DefaultPositiveWords()
	}
	if len(negativeWords) == 0 {
		negativeWords = DefaultNegativeWords()
	}
	return &Extractor{
		tiers:         tiers,
		majorSymbols:  majors,
		positiveWords: positiveWords,
		negativeWords: negativeWords,
	}
}

// Extract はタイトルと本文からタグ・シンボル・センチメントを一括抽出する。
// 空テキストや不正なテキストでもエラーにはならず、空のシグナルを返す。
func (e *Extractor) Extract(title, body string) Signals {
	combined := title + " " + body
	lower := strings.ToLower(combined)

	tags, tagScore := e.extractTags(lower)
	symbols, symbolScore := e.extractSymbols(combined)

	return Signals{
		Tags:        tags,
		TagScore:    tagScore,
		Symbols:     symbols,
		SymbolScore: symbolScore,
		Sentiment:   e.detectSentiment(lower),
	}
}

// extractTags は小文字化済みテキストに対してキーワード階層を照合する。
// 加点はフレーズの出現回数ではなく、マッチした異なりフレーズ数に対して行う。
// 合計は0〜100にクランプする。
func (e *Extractor) extractTags(lower string) ([]string, float64) {
	var score float64
	seen := make(map[string]struct{})
	var tags []string

	match := func(phrases []string, points float64) {
		for _, p := range phrases {
			phrase := strings.ToLower(strings.TrimSpace(p))
			if phrase == "" {
				continue
			}
			if !strings.Contains(lower, phrase) {
				continue
			}
			if _, ok := seen[phrase]; ok {
				continue
			}
			seen[phrase] = struct{}{}
			tags = append(tags, phrase)
			score += points
		}
	}

	match(e.tiers.High, pointsHighTier)
	match(e.tiers.Medium, pointsMediumTier)
	match(e.tiers.Low, pointsLowTier)

	if score > subscoreMax {
		score = subscoreMax
	}
	sort.Strings(tags)
	return tags, score
}

// extractSymbols は元のケースのテキストからティッカー候補を抽出する。
// 大文字のみの正規表現は一般英単語を約4割誤検出するため、
// 拒否リストで既知の大文字語を除外する。これは安価な精度改善であって
// 完全な解ではない。実在ティッカーと一般語が衝突する場合
// （例: 保険会社ALL）は意図的に検出対象外となる。
func (e *Extractor) extractSymbols(text string) ([]string, float64) {
	candidates := symbolPattern.FindAllString(text, -1)
	if len(candidates) == 0 {
		return nil, 0
	}

	seen := make(map[string]struct{})
	var symbols []string
	majorCount := 0
	for _, c := range candidates {
		if len(c) < 1 || len(c) > 5+2 {
			continue
		}
		if _, deny := symbolDenylist[c]; deny {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		symbols = append(symbols, c)
		if _, ok := e.majorSymbols[c]; ok {
			majorCount++
		}
	}

	if len(symbols) == 0 {
		return nil, 0
	}

	score := float64(pointsPerSymbol*len(symbols) + pointsMajorBonus*majorCount)
	if score > subscoreMax {
		score = subscoreMax
	}
	sort.Strings(symbols)
	return symbols, score
}

// detectSentiment はポジティブ語とネガティブ語の出現回数を数えて多数決で
// 分類する。同数および空テキストはneutral。
func (e *Extractor) detectSentiment(lower string) model.Sentiment {
	positive := countOccurrences(lower, e.positiveWords)
	negative := countOccurrences(lower, e.negativeWords)

	switch {
	case positive > negative:
		return model.SentimentPositive
	case negative > positive:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

func countOccurrences(lower string, words []string) int {
	total := 0
	for _, w := range words {
		word := strings.ToLower(strings.TrimSpace(w))
		if word == "" {
			continue
		}
		total += strings.Count(lower, word)
	}
	return total
}
