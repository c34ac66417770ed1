package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/security"
)

// RSSFetcher はRSS/Atomフィードからのコンテンツ取得を行う。
// ニュースフィードとポッドキャストフィードの両方に対応する
// （gofeedがiTunes拡張を透過的に処理する）。
// ETag/Last-Modifiedによる条件付きGET、SSRF検証、
// 取得後のテキストクリーニングを実行する。
type RSSFetcher struct {
	kind        model.SourceKind
	sourceName  string
	feedURL     string
	ssrfGuard   security.SSRFGuardService
	cleaner     security.TextCleanerService
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64

	// 条件付きGET用の前回レスポンス情報と不変更時のアイテムキャッシュ。
	// 304応答では本文が返らないため、前回パース結果を保持して返す。
	mu           sync.Mutex
	etag         string
	lastModified string
	lastItems    []model.ContentItem
}

// NewRSSFetcher はRSSFetcherを生成する。
// kindにはSourceKindNewsまたはSourceKindPodcastを指定する。
func NewRSSFetcher(
	kind model.SourceKind,
	sourceName string,
	feedURL string,
	ssrfGuard security.SSRFGuardService,
	cleaner security.TextCleanerService,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *RSSFetcher {
	return &RSSFetcher{
		kind:        kind,
		sourceName:  sourceName,
		feedURL:     feedURL,
		ssrfGuard:   ssrfGuard,
		cleaner:     cleaner,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Kind はソース種別を返す。
func (f *RSSFetcher) Kind() model.SourceKind {
	return f.kind
}

// SourceID はレート制限・キャッシュキー用の識別子を返す。
func (f *RSSFetcher) SourceID() string {
	return string(f.kind) + ":" + strings.ToLower(strings.ReplaceAll(f.sourceName, " ", "-"))
}

// Fetch はフィードを取得し、タイムフレーム内のアイテムを返す。
// 304 Not Modifiedの場合は前回のパース結果を再利用する。
func (f *RSSFetcher) Fetch(ctx context.Context, tf model.Timeframe, filters []string) ([]model.ContentItem, error) {
	if err := f.ssrfGuard.ValidateURL(f.feedURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}

	req.Header.Set("User-Agent", "Marketbrief/1.0 Briefing Aggregator")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	f.mu.Lock()
	if f.etag != "" {
		req.Header.Set("If-None-Match", f.etag)
	}
	if f.lastModified != "" {
		req.Header.Set("If-Modified-Since", f.lastModified)
	}
	f.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		f.mu.Lock()
		cached := make([]model.ContentItem, len(f.lastItems))
		copy(cached, f.lastItems)
		f.mu.Unlock()
		return f.selectWindow(cached, tf, filters), nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("フィード取得に失敗: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み込みに失敗: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	items := f.convert(feed)

	f.mu.Lock()
	f.etag = resp.Header.Get("ETag")
	f.lastModified = resp.Header.Get("Last-Modified")
	f.lastItems = items
	f.mu.Unlock()

	return f.selectWindow(items, tf, filters), nil
}

// convert はgofeedのアイテムをContentItemへ変換する。
// 公開日時がパースできないアイテムはゼロ値タイムスタンプのまま通す
// （スコアラー側でrecency=0に縮退する）。
func (f *RSSFetcher) convert(feed *gofeed.Feed) []model.ContentItem {
	items := make([]model.ContentItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		key := entry.GUID
		if key == "" {
			key = entry.Link
		}
		if key == "" {
			key = entry.Title
		}

		var ts time.Time
		if entry.PublishedParsed != nil {
			ts = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			ts = entry.UpdatedParsed.UTC()
		} else {
			f.logger.Warn("公開日時をパースできませんでした",
				slog.String("source", f.sourceName),
				slog.String("raw_date", entry.Published),
			)
		}

		rawBody := entry.Content
		if rawBody == "" {
			rawBody = entry.Description
		}

		author := ""
		if len(entry.Authors) > 0 {
			author = entry.Authors[0].Name
		}

		items = append(items, model.ContentItem{
			ID:           stableID(string(f.kind), key),
			SourceKind:   f.kind,
			SourceName:   f.sourceName,
			SourceURL:    entry.Link,
			SourceAuthor: author,
			Timestamp:    ts,
			Title:        f.cleaner.Clean(entry.Title),
			Body:         f.cleaner.Clean(rawBody),
		})
	}
	return items
}

// selectWindow はタイムフレーム外のアイテムとフィルタ不一致を除外する。
// タイムスタンプ不明のアイテムは除外しない（関連度はrecencyで下がる）。
func (f *RSSFetcher) selectWindow(items []model.ContentItem, tf model.Timeframe, filters []string) []model.ContentItem {
	cutoff := time.Now().UTC().Add(-time.Duration(tf.Hours()) * time.Hour)

	out := make([]model.ContentItem, 0, len(items))
	for _, item := range items {
		if !item.Timestamp.IsZero() && item.Timestamp.Before(cutoff) {
			continue
		}
		if !matchesFilters(item.Title, item.Body, filters) {
			continue
		}
		out = append(out, item)
	}
	return out
}
