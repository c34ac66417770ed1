package aggregate

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/marketbrief/internal/authority"
	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/scoring"
	"github.com/hitoshi/marketbrief/internal/signal"
)

var testNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T, opts Options) *Aggregator {
	t.Helper()
	cfg := scoring.Config{
		Weights:            scoring.DefaultWeights(),
		KeywordTiers:       signal.DefaultKeywordTiers(),
		MajorSymbols:       signal.DefaultMajorSymbols(),
		RecencyWindowHours: scoring.DefaultRecencyWindowHours,
		AlertThreshold:     scoring.DefaultAlertThreshold,
	}
	scorer, err := scoring.NewScorer(cfg, authority.NewTable(nil))
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return NewAggregator(scorer, opts)
}

func newsItem(id, title, body string, ts time.Time) model.ContentItem {
	return model.ContentItem{
		ID:         id,
		SourceKind: model.SourceKindNews,
		SourceName: "Bloomberg API",
		Timestamp:  ts,
		Title:      title,
		Body:       body,
	}
}

func TestAggregate_EmptyInput_ReturnsEmptySnapshot(t *testing.T) {
	a := newTestAggregator(t, Options{})

	snapshot := a.Aggregate(map[model.SourceKind][]model.ContentItem{}, testNow)

	if len(snapshot.KeyEvents) != 0 {
		t.Errorf("KeyEvents = %v, want empty", snapshot.KeyEvents)
	}
	if len(snapshot.AlertItems) != 0 {
		t.Errorf("AlertItems = %v, want empty", snapshot.AlertItems)
	}
	if len(snapshot.CrossSourcePatterns) != 0 {
		t.Errorf("CrossSourcePatterns = %v, want empty", snapshot.CrossSourcePatterns)
	}
	for _, kind := range model.AllSourceKinds() {
		if snapshot.SourceBreakdown[kind] != 0 {
			t.Errorf("SourceBreakdown[%s] = %d, want 0", kind, snapshot.SourceBreakdown[kind])
		}
	}
	if snapshot.SummaryText == "" {
		t.Error("SummaryText should state that no data was found")
	}
}

func TestSortItems_TieBrokenByNewerTimestamp(t *testing.T) {
	t1 := testNow.Add(-2 * time.Hour)
	t2 := testNow.Add(-1 * time.Hour)

	items := []model.ContentItem{
		{ID: "low", Score: 50, Timestamp: testNow},
		{ID: "older", Score: 90, Timestamp: t1},
		{ID: "newer", Score: 90, Timestamp: t2},
	}
	sortItems(items)

	if items[0].ID != "newer" {
		t.Errorf("items[0].ID = %q, want %q", items[0].ID, "newer")
	}
	if items[1].ID != "older" {
		t.Errorf("items[1].ID = %q, want %q", items[1].ID, "older")
	}
	if items[2].ID != "low" {
		t.Errorf("items[2].ID = %q, want %q", items[2].ID, "low")
	}
}

func TestAggregate_TieBreak_NewerItemRanksFirst(t *testing.T) {
	a := newTestAggregator(t, Options{})

	// 同一テキスト・同一ソースで、どちらも新しさ窓の外 → スコア完全同点。
	// タイムスタンプの新しい方が先に来る。
	old := newsItem("old", "AAPL earnings beat", "", testNow.Add(-100*time.Hour))
	newer := newsItem("new", "AAPL earnings beat", "", testNow.Add(-90*time.Hour))

	snapshot := a.Aggregate(map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews: {old, newer},
	}, testNow)

	if len(snapshot.KeyEvents) != 2 {
		t.Fatalf("len(KeyEvents) = %d, want 2", len(snapshot.KeyEvents))
	}
	if snapshot.KeyEvents[0].ID != "new" {
		t.Errorf("KeyEvents[0].ID = %q, want %q", snapshot.KeyEvents[0].ID, "new")
	}
}

func TestAggregate_AlertItems_ThresholdAndCap(t *testing.T) {
	a := newTestAggregator(t, Options{AlertThreshold: 80})

	hot := "AAPL MSFT SPY surge on earnings merger inflation rate cut guidance"
	items := []model.ContentItem{
		newsItem("a1", hot, hot, testNow),
		newsItem("a2", hot, hot, testNow),
		newsItem("a3", hot, hot, testNow),
		newsItem("a4", hot, hot, testNow),
		newsItem("a5", hot, hot, testNow),
		newsItem("a6", hot, hot, testNow),
		newsItem("cold", "cats are cute", "", testNow),
	}

	snapshot := a.Aggregate(map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews: items,
	}, testNow)

	if len(snapshot.AlertItems) != 5 {
		t.Fatalf("len(AlertItems) = %d, want 5 (cap)", len(snapshot.AlertItems))
	}
	for _, item := range snapshot.AlertItems {
		if item.Score < 80 {
			t.Errorf("alert item %s has score %v below threshold", item.ID, item.Score)
		}
	}
}

func TestAggregate_KeyEvents_TopKPerKindThenResort(t *testing.T) {
	a := newTestAggregator(t, Options{})

	hot := "AAPL earnings merger inflation surge"
	mild := "stock market analyst"
	items := map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews: {
			newsItem("n1", hot, hot, testNow),
			newsItem("n2", hot, hot, testNow.Add(-time.Hour)),
			newsItem("n3", mild, "", testNow),
			newsItem("n4", mild, "", testNow.Add(-time.Hour)),
		},
		model.SourceKindEmail: {
			{ID: "e1", SourceName: "Gmail", Timestamp: testNow, Title: mild},
			{ID: "e2", SourceName: "Gmail", Timestamp: testNow.Add(-time.Hour), Title: mild},
			{ID: "e3", SourceName: "Gmail", Timestamp: testNow.Add(-2 * time.Hour), Title: mild},
		},
	}

	snapshot := a.Aggregate(items, testNow)

	// news上位3件 + email上位2件 = 5件
	if len(snapshot.KeyEvents) != 5 {
		t.Fatalf("len(KeyEvents) = %d, want 5", len(snapshot.KeyEvents))
	}
	counts := map[model.SourceKind]int{}
	for _, ev := range snapshot.KeyEvents {
		counts[ev.SourceKind]++
	}
	if counts[model.SourceKindNews] != 3 {
		t.Errorf("news key events = %d, want 3", counts[model.SourceKindNews])
	}
	if counts[model.SourceKindEmail] != 2 {
		t.Errorf("email key events = %d, want 2", counts[model.SourceKindEmail])
	}
	// 統合後もスコア降順
	for i := 1; i < len(snapshot.KeyEvents); i++ {
		if snapshot.KeyEvents[i].Score > snapshot.KeyEvents[i-1].Score {
			t.Errorf("KeyEvents not sorted by score at %d", i)
		}
	}
}

func TestAggregate_SymbolPattern_RequiresBreadthAndVolume(t *testing.T) {
	a := newTestAggregator(t, Options{})

	// NVDAがnewsのみに2回 → 広がり不足でパターンなし
	snapshot := a.Aggregate(map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews: {
			newsItem("n1", "NVDA climbs", "", testNow),
			newsItem("n2", "NVDA extends gain", "", testNow),
		},
	}, testNow)

	for _, p := range snapshot.CrossSourcePatterns {
		if strings.Contains(p, "NVDA") {
			t.Errorf("unexpected pattern for single-kind symbol: %q", p)
		}
	}

	// NVDAがnews2回 + email1回 = 3回・2種別 → パターンあり
	snapshot = a.Aggregate(map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews: {
			newsItem("n1", "NVDA climbs", "", testNow),
			newsItem("n2", "NVDA extends gain", "", testNow),
		},
		model.SourceKindEmail: {
			{ID: "e1", SourceName: "Gmail", Timestamp: testNow, Title: "NVDA flagged in desk note"},
		},
	}, testNow)

	found := false
	for _, p := range snapshot.CrossSourcePatterns {
		if p == "NVDA mentioned across 2 sources (news, email)" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected NVDA pattern, got %v", snapshot.CrossSourcePatterns)
	}
}

func TestAggregate_TagPattern_HigherVolumeBar(t *testing.T) {
	a := newTestAggregator(t, Options{})

	mk := func(id string, kind model.SourceKind) model.ContentItem {
		return model.ContentItem{
			ID: id, SourceKind: kind, SourceName: "src",
			Timestamp: testNow, Title: "earnings preview",
		}
	}

	// earningsタグが3回・2種別 → 量の閾値(4)未満でパターンなし
	snapshot := a.Aggregate(map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews:  {mk("n1", model.SourceKindNews), mk("n2", model.SourceKindNews)},
		model.SourceKindEmail: {mk("e1", model.SourceKindEmail)},
	}, testNow)
	if len(snapshot.CrossSourcePatterns) != 0 {
		t.Errorf("patterns = %v, want none below volume bar", snapshot.CrossSourcePatterns)
	}

	// 4回・2種別 → パターンあり
	snapshot = a.Aggregate(map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews:  {mk("n1", model.SourceKindNews), mk("n2", model.SourceKindNews), mk("n3", model.SourceKindNews)},
		model.SourceKindEmail: {mk("e1", model.SourceKindEmail)},
	}, testNow)

	found := false
	for _, p := range snapshot.CrossSourcePatterns {
		if p == `"earnings" trending across 2 sources` {
			found = true
		}
	}
	if !found {
		t.Errorf("expected earnings tag pattern, got %v", snapshot.CrossSourcePatterns)
	}
}

func TestAggregate_Patterns_CappedWithSymbolPriority(t *testing.T) {
	a := newTestAggregator(t, Options{})

	// 6種のシンボルをnewsとemailに3回ずつ出現させ、パターン候補を6件作る
	symbols := []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"}
	var news, email []model.ContentItem
	for i, sym := range symbols {
		id := string(rune('a' + i))
		news = append(news,
			newsItem("n1"+id, sym+" update", "", testNow),
			newsItem("n2"+id, sym+" follow-up", "", testNow),
		)
		email = append(email, model.ContentItem{
			ID: "e" + id, SourceName: "Gmail", Timestamp: testNow, Title: sym + " desk note",
		})
	}

	snapshot := a.Aggregate(map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews:  news,
		model.SourceKindEmail: email,
	}, testNow)

	if len(snapshot.CrossSourcePatterns) != 5 {
		t.Fatalf("len(patterns) = %d, want 5 (cap)", len(snapshot.CrossSourcePatterns))
	}
	for _, p := range snapshot.CrossSourcePatterns {
		if strings.Contains(p, "trending") {
			t.Errorf("tag pattern %q should be truncated before symbol patterns", p)
		}
	}
}

func TestAggregate_Summary_Sections(t *testing.T) {
	a := newTestAggregator(t, Options{PrioritySymbols: []string{"NVDA"}})

	hot := "NVDA surge on earnings merger inflation rate cut guidance AAPL MSFT"
	snapshot := a.Aggregate(map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews: {
			newsItem("n1", hot, hot, testNow),
			newsItem("n2", "NVDA rally continues", "", testNow),
		},
		model.SourceKindEmail: {
			{ID: "e1", SourceName: "Gmail", Timestamp: testNow, Title: "NVDA position review"},
		},
	}, testNow)

	summary := snapshot.SummaryText
	if !strings.Contains(summary, "Analyzed 3 items") {
		t.Errorf("summary missing item count: %q", summary)
	}
	if !strings.Contains(summary, "alert threshold") {
		t.Errorf("summary missing alert sentence: %q", summary)
	}
	if !strings.Contains(summary, "mention priority symbols") {
		t.Errorf("summary missing priority symbol sentence: %q", summary)
	}
	if !strings.Contains(summary, "NVDA mentioned across 2 sources") {
		t.Errorf("summary missing top pattern: %q", summary)
	}
	if !strings.Contains(summary, "Sentiment leans positive") {
		t.Errorf("summary missing sentiment skew: %q", summary)
	}
}

func TestAggregate_SourceBreakdown_CountsAllMergedItems(t *testing.T) {
	a := newTestAggregator(t, Options{})

	items := map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews: {
			newsItem("n1", "stock news", "", testNow),
			newsItem("n2", "stock news", "", testNow),
		},
		model.SourceKindPodcast: {
			{ID: "p1", SourceName: "Odd Lots", Timestamp: testNow, Title: "markets episode"},
		},
	}

	snapshot := a.Aggregate(items, testNow)

	if snapshot.SourceBreakdown[model.SourceKindNews] != 2 {
		t.Errorf("news breakdown = %d, want 2", snapshot.SourceBreakdown[model.SourceKindNews])
	}
	if snapshot.SourceBreakdown[model.SourceKindPodcast] != 1 {
		t.Errorf("podcast breakdown = %d, want 1", snapshot.SourceBreakdown[model.SourceKindPodcast])
	}
	if snapshot.SourceBreakdown[model.SourceKindEmail] != 0 {
		t.Errorf("email breakdown = %d, want 0", snapshot.SourceBreakdown[model.SourceKindEmail])
	}
}

func TestAggregate_Determinism_ArrivalOrderIndependent(t *testing.T) {
	a := newTestAggregator(t, Options{})

	i1 := newsItem("n1", "AAPL earnings beat", "", testNow)
	i2 := newsItem("n2", "market selloff fear", "", testNow.Add(-time.Hour))
	i3 := newsItem("n3", "analyst forecast", "", testNow.Add(-2*time.Hour))

	s1 := a.Aggregate(map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews: {i1, i2, i3},
	}, testNow)
	s2 := a.Aggregate(map[model.SourceKind][]model.ContentItem{
		model.SourceKindNews: {i3, i1, i2},
	}, testNow)

	if s1.SummaryText != s2.SummaryText {
		t.Errorf("summaries differ:\n%q\n%q", s1.SummaryText, s2.SummaryText)
	}
	if len(s1.KeyEvents) != len(s2.KeyEvents) {
		t.Fatalf("key event counts differ: %d vs %d", len(s1.KeyEvents), len(s2.KeyEvents))
	}
	for i := range s1.KeyEvents {
		if s1.KeyEvents[i].ID != s2.KeyEvents[i].ID {
			t.Errorf("KeyEvents[%d] differs: %q vs %q", i, s1.KeyEvents[i].ID, s2.KeyEvents[i].ID)
		}
	}
}
