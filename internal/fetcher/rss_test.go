package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/security"
)

// mockSSRFGuard はSSRFGuardServiceのテスト用モック。
// httptestサーバーはループバックで動くため、素のクライアントを返す。
type mockSSRFGuard struct {
	validateErr error
}

func (m *mockSSRFGuard) NewSafeClient(timeout time.Duration, _ int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (m *mockSSRFGuard) ValidateURL(_ string) error {
	return m.validateErr
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func rssBody(pubDate string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Test Markets Feed</title>
    <item>
      <title>AAPL &lt;b&gt;earnings&lt;/b&gt; beat</title>
      <link>https://example.com/article1</link>
      <guid>guid-1</guid>
      <description>&lt;p&gt;Strong quarter&lt;/p&gt;</description>
      <pubDate>%s</pubDate>
    </item>
    <item>
      <title>Old story</title>
      <link>https://example.com/article2</link>
      <guid>guid-2</guid>
      <description>stale</description>
      <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    </item>
    <item>
      <title>No date story</title>
      <link>https://example.com/article3</link>
      <guid>guid-3</guid>
      <description>undated</description>
    </item>
  </channel>
</rss>`, pubDate)
}

func newRSSTestFetcher(serverURL string) *RSSFetcher {
	var buf bytes.Buffer
	return NewRSSFetcher(
		model.SourceKindNews,
		"Test Markets Feed",
		serverURL,
		&mockSSRFGuard{},
		security.NewTextCleaner(),
		newTestLogger(&buf),
		5*time.Second,
		1<<20,
	)
}

func TestRSSFetch_ParsesCleansAndFiltersWindow(t *testing.T) {
	recent := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC1123Z)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssBody(recent))
	}))
	defer server.Close()

	f := newRSSTestFetcher(server.URL)
	items, err := f.Fetch(context.Background(), model.TimeframeToday, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	// recent + 日付なし。2006年の記事は窓の外。
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}

	first := items[0]
	if first.Title != "AAPL earnings beat" {
		t.Errorf("Title = %q, want cleaned text", first.Title)
	}
	if first.Body != "Strong quarter" {
		t.Errorf("Body = %q, want cleaned text", first.Body)
	}
	if first.SourceKind != model.SourceKindNews {
		t.Errorf("SourceKind = %q, want news", first.SourceKind)
	}
	if first.Score != 0 || len(first.Tags) != 0 {
		t.Errorf("fetcher must not set derived fields: score=%v tags=%v", first.Score, first.Tags)
	}

	// 日付なしアイテムはゼロ値タイムスタンプで通す
	if !items[1].Timestamp.IsZero() {
		t.Errorf("undated item Timestamp = %v, want zero", items[1].Timestamp)
	}
}

func TestRSSFetch_StableIDsAcrossFetches(t *testing.T) {
	recent := time.Now().UTC().Format(time.RFC1123Z)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(recent))
	}))
	defer server.Close()

	f := newRSSTestFetcher(server.URL)
	first, err := f.Fetch(context.Background(), model.TimeframeToday, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	second, err := f.Fetch(context.Background(), model.TimeframeToday, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if first[0].ID != second[0].ID {
		t.Errorf("IDs differ across fetches: %q vs %q", first[0].ID, second[0].ID)
	}
}

func TestRSSFetch_NotModifiedReusesLastItems(t *testing.T) {
	recent := time.Now().UTC().Format(time.RFC1123Z)
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, rssBody(recent))
	}))
	defer server.Close()

	f := newRSSTestFetcher(server.URL)
	ctx := context.Background()

	first, err := f.Fetch(ctx, model.TimeframeToday, nil)
	if err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	second, err := f.Fetch(ctx, model.TimeframeToday, nil)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}

	if calls != 2 {
		t.Errorf("server calls = %d, want 2", calls)
	}
	if len(first) != len(second) {
		t.Errorf("item counts differ: %d vs %d", len(first), len(second))
	}
}

func TestRSSFetch_FilterKeywords(t *testing.T) {
	recent := time.Now().UTC().Format(time.RFC1123Z)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(recent))
	}))
	defer server.Close()

	f := newRSSTestFetcher(server.URL)
	items, err := f.Fetch(context.Background(), model.TimeframeToday, []string{"earnings"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Title != "AAPL earnings beat" {
		t.Errorf("Title = %q, want the earnings item", items[0].Title)
	}
}

func TestRSSFetch_SSRFValidationFailure(t *testing.T) {
	var buf bytes.Buffer
	f := NewRSSFetcher(
		model.SourceKindNews, "bad", "http://127.0.0.1/feed",
		&mockSSRFGuard{validateErr: fmt.Errorf("blocked")},
		security.NewTextCleaner(), newTestLogger(&buf),
		time.Second, 1<<20,
	)

	if _, err := f.Fetch(context.Background(), model.TimeframeToday, nil); err == nil {
		t.Error("expected SSRF validation error")
	}
}

func TestRSSFetch_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newRSSTestFetcher(server.URL)
	if _, err := f.Fetch(context.Background(), model.TimeframeToday, nil); err == nil {
		t.Error("expected error for 500 response")
	}
}
