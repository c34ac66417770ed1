package security

import (
	nethtml "html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// maxCleanTextBytes はスコアリングに渡すテキストの上限。
// シグナル抽出は全文を必要としないため、極端に長い本文は先頭のみ使用する。
// スコアラー自体は任意長の入力で壊れないが、ここで切ることで
// 巨大なフィード本文による無駄な走査を避ける。
const maxCleanTextBytes = 64 * 1024

// TextCleanerService はフェッチ済みコンテンツをスコアリング入力用の
// プレーンテキストに変換するインターフェース。
type TextCleanerService interface {
	// Clean はHTML混じりのテキストからタグを除去し、実体参照を展開し、
	// 連続する空白を1つに畳んだプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。空入力には空文字列を返す。
	Clean(raw string) string
}

// textCleaner はTextCleanerServiceの実装。
// bluemondayのStrictPolicyで全タグを除去する。bluemondayはタグ除去後に
// 特殊文字を再エスケープするため、その後に実体参照を展開する。
type textCleaner struct {
	policy *bluemonday.Policy
}

// NewTextCleaner はTextCleanerServiceの新しいインスタンスを生成する。
func NewTextCleaner() *textCleaner {
	return &textCleaner{policy: bluemonday.StrictPolicy()}
}

// Clean はHTML混じりのテキストをプレーンテキストに変換する。
// 不正なHTMLでもエラーにはならず、変換できた範囲のテキストを返す。
func (c *textCleaner) Clean(raw string) string {
	if raw == "" {
		return ""
	}

	stripped := c.policy.Sanitize(raw)
	text := nethtml.UnescapeString(stripped)

	// StrictPolicyが処理しきれない壊れたマークアップの残骸が含まれる場合は
	// パースツリーを歩いてテキストノードだけを拾う
	if strings.ContainsAny(text, "<>") {
		if walked, ok := extractText(text); ok {
			text = walked
		}
	}

	text = strings.Join(strings.Fields(text), " ")
	return truncateUTF8(text, maxCleanTextBytes)
}

// extractText はHTMLパースツリーのテキストノードを連結して返す。
func extractText(fragment string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return "", false
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return sb.String(), true
}

// truncateUTF8 は文字境界を壊さずに最大maxバイトへ切り詰める。
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
