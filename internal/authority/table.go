// Package authority はソース名から権威スコア（0〜100）への変換テーブルを
// 提供する。テーブルは実行中に操作者がチューニングできる唯一の可変状態で、
// スコアリングの並行読み取りと更新が競合しないようRWMutexで保護する。
package authority

import (
	"sort"
	"strings"
	"sync"
)

// DefaultScore は未知のソースに適用されるデフォルト権威スコア。
const DefaultScore = 50

// maxScore / minScore は権威スコアの値域。
const (
	minScore = 0
	maxScore = 100
)

// fragment は既知プロバイダー名の部分文字列とその権威スコアの組。
type fragment struct {
	substr string
	score  int
}

// knownFragments は完全一致しなかったソース名に対するフォールバック照合用の
// 既知プロバイダー断片。照合はケース非依存の部分文字列一致で、
// 先に定義されたものが優先される。
var knownFragments = []fragment{
	{"bloomberg", 95},
	{"reuters", 90},
	{"wall street journal", 90},
	{"wsj", 90},
	{"marketwatch", 80},
	{"yahoo finance", 75},
	{"cnbc", 70},
	{"seeking alpha", 65},
	{"motley fool", 60},
}

// Table はソース名→権威スコアの可変テーブル。
// 並行アクセスに対して安全。更新はlast-writer-winsで、
// これは操作者向けチューニングデータであり厳密な整合性は要求されない。
type Table struct {
	mu        sync.RWMutex
	overrides map[string]int // キーは小文字化済みソース名
}

// NewTable は新しいTableを生成する。
// overridesには起動時の上書き値（設定由来）を渡す。nilでもよい。
func NewTable(overrides map[string]int) *Table {
	t := &Table{overrides: make(map[string]int)}
	for name, score := range overrides {
		t.Set(name, score)
	}
	return t
}

// Lookup はソース名に対する権威スコアを返す。
// 照合順序: 上書きテーブルの完全一致（ケース非依存）→
// 既知プロバイダー断片の部分文字列一致 → デフォルト50。
func (t *Table) Lookup(sourceName string) int {
	key := normalizeKey(sourceName)
	if key == "" {
		return DefaultScore
	}

	t.mu.RLock()
	score, ok := t.overrides[key]
	t.mu.RUnlock()
	if ok {
		return score
	}

	for _, f := range knownFragments {
		if strings.Contains(key, f.substr) {
			return f.score
		}
	}
	return DefaultScore
}

// Set はソース名の権威スコアを設定する。範囲外の値は0〜100にクランプする。
// 空のソース名は無視する。
func (t *Table) Set(sourceName string, score int) {
	key := normalizeKey(sourceName)
	if key == "" {
		return
	}
	if score < minScore {
		score = minScore
	}
	if score > maxScore {
		score = maxScore
	}

	t.mu.Lock()
	t.overrides[key] = score
	t.mu.Unlock()
}

// Override は1件の上書きエントリを表す。
type Override struct {
	SourceName string
	Score      int
}

// Overrides は現在の上書きエントリ一覧をソース名昇順で返す。
// 返り値はスナップショットのコピーで、呼び出し後のテーブル更新の影響を受けない。
func (t *Table) Overrides() []Override {
	t.mu.RLock()
	out := make([]Override, 0, len(t.overrides))
	for name, score := range t.overrides {
		out = append(out, Override{SourceName: name, Score: score})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SourceName < out[j].SourceName })
	return out
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
