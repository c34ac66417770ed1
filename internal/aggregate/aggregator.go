// Package aggregate は複数ソースのスコア済みアイテムを1つのスナップショットに
// 統合する。マージ・整列・アラート抽出・クロスソースパターン検出・
// サマリー生成はすべて決定的で、同一入力から常に同一のスナップショットを生成する。
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/scoring"
)

// 出力サイズの上限。
const (
	maxKeyEvents   = 10
	maxAlertItems  = 5
	maxPatterns    = 5
	highScoreFloor = 70
)

// クロスソースパターンの判定閾値。ソース種別の広がりと出現量の両方を
// 要求することで、2ソースに1回ずつ偶然現れただけのシンボルを弾く。
// タグはシンボルより出現が多くノイジーなため、量の閾値を高くしている。
const (
	patternMinKinds      = 2
	symbolMinOccurrences = 3
	tagMinOccurrences    = 4
)

// DefaultTopKPerKind はソース種別ごとの主要イベント採用数のデフォルト。
func DefaultTopKPerKind() map[model.SourceKind]int {
	return map[model.SourceKind]int{
		model.SourceKindNews:    3,
		model.SourceKindPodcast: 2,
		model.SourceKindEmail:   2,
	}
}

// Options は1回の集約パスのパラメータ。
type Options struct {
	// AlertThreshold 以上のスコアのアイテムがアラートになる。
	AlertThreshold float64
	// TopKPerKind はソース種別ごとの主要イベント採用数。
	// 未指定の種別はデフォルト値を使用する。
	TopKPerKind map[model.SourceKind]int
	// PrioritySymbols は呼び出し側が指定する注目ティッカー。
	// 指定時はサマリーに言及数が含まれる。
	PrioritySymbols []string
}

// Aggregator はスコアラーとオプションを束ねた集約器。
// 自身は可変状態を持たず、複数のスナップショット要求から並行に呼び出せる。
type Aggregator struct {
	scorer *scoring.Scorer
	opts   Options
}

// NewAggregator はAggregatorを生成する。
func NewAggregator(scorer *scoring.Scorer, opts Options) *Aggregator {
	if opts.AlertThreshold == 0 {
		opts.AlertThreshold = scorer.AlertThreshold()
	}
	topK := DefaultTopKPerKind()
	for kind, k := range opts.TopKPerKind {
		topK[kind] = k
	}
	opts.TopKPerKind = topK
	return &Aggregator{scorer: scorer, opts: opts}
}

// Aggregate はソース種別ごとのアイテム群から1つのスナップショットを構築する。
// 入力アイテムの派生フィールドは信頼せず、全件をこのパスで再スコアする。
// 空入力でもnilを返さず、空のシーケンスと「データなし」サマリーを持つ
// スナップショットを返す。
func (a *Aggregator) Aggregate(itemsByKind map[model.SourceKind][]model.ContentItem, now time.Time) model.Snapshot {
	// 1. 全アイテムを再スコアしつつマージ
	var merged []model.ContentItem
	breakdown := make(map[model.SourceKind]int, len(model.AllSourceKinds()))
	for _, kind := range model.AllSourceKinds() {
		breakdown[kind] = 0
	}
	for kind, items := range itemsByKind {
		for _, item := range items {
			item.SourceKind = kind
			merged = append(merged, a.scorer.ScoreItem(item, now))
		}
		breakdown[kind] += len(items)
	}

	// 2. スコア降順・同点はタイムスタンプ降順の全順序で整列。
	// 到着順に依存しない決定的な出力のため、最後にIDで安定化する。
	sortItems(merged)

	snapshot := model.Snapshot{
		GeneratedAt:         now,
		KeyEvents:           a.selectKeyEvents(merged),
		AlertItems:          a.selectAlerts(merged),
		CrossSourcePatterns: a.detectPatterns(merged),
		SourceBreakdown:     breakdown,
	}
	snapshot.SummaryText = a.composeSummary(merged, snapshot)
	return snapshot
}

// sortItems はスコア降順、同点はタイムスタンプ降順（新しい方が先）、
// さらに同点はID昇順で整列する。
func sortItems(items []model.ContentItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID < items[j].ID
	})
}

// selectAlerts は閾値以上のアイテムを整列順に最大5件返す。
func (a *Aggregator) selectAlerts(merged []model.ContentItem) []model.ContentItem {
	alerts := make([]model.ContentItem, 0, maxAlertItems)
	for _, item := range merged {
		if item.Score < a.opts.AlertThreshold {
			break // 整列済みのため以降は全て閾値未満
		}
		alerts = append(alerts, item)
		if len(alerts) == maxAlertItems {
			break
		}
	}
	return alerts
}

// selectKeyEvents はソース種別ごとの上位K件を取り出して統合し、
// スコア降順に再整列して最大10件返す。
func (a *Aggregator) selectKeyEvents(merged []model.ContentItem) []model.ContentItem {
	taken := make(map[model.SourceKind]int)
	var events []model.ContentItem
	for _, item := range merged {
		if taken[item.SourceKind] >= a.opts.TopKPerKind[item.SourceKind] {
			continue
		}
		taken[item.SourceKind]++
		events = append(events, item)
	}

	sortItems(events)
	if len(events) > maxKeyEvents {
		events = events[:maxKeyEvents]
	}
	return events
}

// mentionStats はシンボル/タグごとの出現ソース種別と総出現数。
type mentionStats struct {
	name        string
	kinds       map[model.SourceKind]struct{}
	occurrences int
}

// detectPatterns はシンボルとタグのクロスソースパターンを検出する。
// シンボル: 2種別以上かつ3回以上。タグ: 2種別以上かつ4回以上。
// 結果は合計5件まで、シンボルパターンを優先して採用する。
func (a *Aggregator) detectPatterns(merged []model.ContentItem) []string {
	symbolStats := collectMentions(merged, func(it model.ContentItem) []string { return it.Symbols })
	tagStats := collectMentions(merged, func(it model.ContentItem) []string { return it.Tags })

	var patterns []string
	for _, st := range qualifying(symbolStats, symbolMinOccurrences) {
		patterns = append(patterns, fmt.Sprintf("%s mentioned across %d sources (%s)",
			st.name, len(st.kinds), kindList(st.kinds)))
	}
	for _, st := range qualifying(tagStats, tagMinOccurrences) {
		patterns = append(patterns, fmt.Sprintf("%q trending across %d sources",
			st.name, len(st.kinds)))
	}

	if len(patterns) > maxPatterns {
		patterns = patterns[:maxPatterns]
	}
	return patterns
}

// collectMentions はアイテム群からシンボル/タグごとの出現統計を集める。
func collectMentions(items []model.ContentItem, extract func(model.ContentItem) []string) map[string]*mentionStats {
	stats := make(map[string]*mentionStats)
	for _, item := range items {
		for _, name := range extract(item) {
			st, ok := stats[name]
			if !ok {
				st = &mentionStats{name: name, kinds: make(map[model.SourceKind]struct{})}
				stats[name] = st
			}
			st.kinds[item.SourceKind] = struct{}{}
			st.occurrences++
		}
	}
	return stats
}

// qualifying は閾値を満たす統計を出現数降順・名前昇順で返す。
func qualifying(stats map[string]*mentionStats, minOccurrences int) []*mentionStats {
	var out []*mentionStats
	for _, st := range stats {
		if len(st.kinds) >= patternMinKinds && st.occurrences >= minOccurrences {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].occurrences != out[j].occurrences {
			return out[i].occurrences > out[j].occurrences
		}
		return out[i].name < out[j].name
	})
	return out
}

// kindList はソース種別集合を固定順（news, podcast, email）で列挙する。
func kindList(kinds map[model.SourceKind]struct{}) string {
	var names []string
	for _, kind := range model.AllSourceKinds() {
		if _, ok := kinds[kind]; ok {
			names = append(names, string(kind))
		}
	}
	return strings.Join(names, ", ")
}

// composeSummary は決定的な文の組み立てでエグゼクティブサマリーを生成する。
// 文の順序は固定: 件数 → アラート → 注目シンボル → 最上位パターン →
// センチメント傾向。自由文生成は行わない。
func (a *Aggregator) composeSummary(merged []model.ContentItem, snapshot model.Snapshot) string {
	if len(merged) == 0 {
		return "No items were found for this briefing window."
	}

	highCount := 0
	for _, item := range merged {
		if item.Score >= highScoreFloor {
			highCount++
		}
	}

	var sentences []string
	sentences = append(sentences, fmt.Sprintf(
		"Analyzed %d items across sources; %d scored %d or higher.",
		len(merged), highCount, highScoreFloor))

	if n := len(snapshot.AlertItems); n > 0 {
		sentences = append(sentences, fmt.Sprintf("%d items crossed the alert threshold.", n))
	}

	if len(a.opts.PrioritySymbols) > 0 {
		mentions := a.countPriorityMentions(merged)
		sentences = append(sentences, fmt.Sprintf("%d items mention priority symbols.", mentions))
	}

	if len(snapshot.CrossSourcePatterns) > 0 {
		sentences = append(sentences, fmt.Sprintf("Top cross-source pattern: %s.", snapshot.CrossSourcePatterns[0]))
	}

	if skew := sentimentSkew(merged); skew != "" {
		sentences = append(sentences, skew)
	}

	return strings.Join(sentences, " ")
}

// countPriorityMentions は注目シンボルのいずれかに言及するアイテム数を返す。
func (a *Aggregator) countPriorityMentions(merged []model.ContentItem) int {
	priority := make(map[string]struct{}, len(a.opts.PrioritySymbols))
	for _, s := range a.opts.PrioritySymbols {
		priority[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}

	count := 0
	for _, item := range merged {
		for _, sym := range item.Symbols {
			if _, ok := priority[sym]; ok {
				count++
				break
			}
		}
	}
	return count
}

// sentimentSkew は全アイテムのセンチメント比率を整数パーセントで報告する。
// ポジティブ/ネガティブの一方が厳密に多い場合はその傾向を、
// 同率の場合はmixedと報告する。センチメントを持つアイテムがない場合は空文字。
func sentimentSkew(merged []model.ContentItem) string {
	total, positive, negative := 0, 0, 0
	for _, item := range merged {
		if item.Sentiment == model.SentimentUnset {
			continue
		}
		total++
		switch item.Sentiment {
		case model.SentimentPositive:
			positive++
		case model.SentimentNegative:
			negative++
		}
	}
	if total == 0 {
		return ""
	}

	positivePct := int(math.Round(float64(positive) / float64(total) * 100))
	negativePct := int(math.Round(float64(negative) / float64(total) * 100))

	switch {
	case positivePct > negativePct:
		return fmt.Sprintf("Sentiment leans positive (%d%% positive vs %d%% negative).", positivePct, negativePct)
	case negativePct > positivePct:
		return fmt.Sprintf("Sentiment leans negative (%d%% negative vs %d%% positive).", negativePct, positivePct)
	default:
		return fmt.Sprintf("Sentiment is mixed (%d%% positive vs %d%% negative).", positivePct, negativePct)
	}
}
