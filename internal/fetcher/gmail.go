package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/security"
)

const defaultGmailEndpoint = "https://gmail.googleapis.com/gmail/v1"

// maxGmailMessages は1回のフェッチで取得するメッセージ数の上限。
const maxGmailMessages = 50

// TokenSource はGmail API呼び出し用のアクセストークンを供給する。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// GmailFetcher はGmail REST APIからメールを取得する。
// 件名をタイトル、スニペットを本文としてContentItemに変換する。
type GmailFetcher struct {
	tokens  TokenSource
	cleaner security.TextCleanerService
	logger  *slog.Logger

	httpClient *http.Client
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewGmailFetcher はGmailFetcherを生成する。
func NewGmailFetcher(tokens TokenSource, cleaner security.TextCleanerService, logger *slog.Logger, timeout time.Duration) *GmailFetcher {
	return &GmailFetcher{
		tokens:     tokens,
		cleaner:    cleaner,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   defaultGmailEndpoint,
	}
}

// Kind はソース種別を返す。
func (f *GmailFetcher) Kind() model.SourceKind {
	return model.SourceKindEmail
}

// SourceID はレート制限・キャッシュキー用の識別子を返す。
func (f *GmailFetcher) SourceID() string {
	return "email:gmail"
}

// gmailListResponse はmessages.listのレスポンス。
type gmailListResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// gmailMessage はmessages.getのレスポンス（metadata形式）。
type gmailMessage struct {
	ID           string `json:"id"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"` // エポックミリ秒の文字列
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// Fetch はタイムフレーム内のメールを取得する。
// 個別メッセージの取得失敗はスキップして続行し、取得できた分のアイテムと
// 非致命的なエラーマーカーの両方を返す（部分的な結果が正常系）。
func (f *GmailFetcher) Fetch(ctx context.Context, tf model.Timeframe, filters []string) ([]model.ContentItem, error) {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("アクセストークンの取得に失敗: %w", err)
	}

	ids, err := f.listMessageIDs(ctx, token, tf, filters)
	if err != nil {
		return nil, err
	}

	var items []model.ContentItem
	var failed int
	for _, id := range ids {
		msg, err := f.getMessage(ctx, token, id)
		if err != nil {
			failed++
			f.logger.Warn("メッセージの取得に失敗しました",
				slog.String("message_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, f.convert(msg))
	}

	if failed > 0 {
		return items, fmt.Errorf("%d件のメッセージ取得に失敗しました", failed)
	}
	return items, nil
}

// listMessageIDs はタイムフレームとフィルタからGmail検索クエリを組み立てて
// メッセージID一覧を取得する。
func (f *GmailFetcher) listMessageIDs(ctx context.Context, token string, tf model.Timeframe, filters []string) ([]string, error) {
	query := "newer_than:1d"
	if tf == model.TimeframeWeek {
		query = "newer_than:7d"
	}
	if len(filters) > 0 {
		var quoted []string
		for _, kw := range filters {
			kw = strings.TrimSpace(kw)
			if kw != "" {
				quoted = append(quoted, fmt.Sprintf("%q", kw))
			}
		}
		if len(quoted) > 0 {
			query += " {" + strings.Join(quoted, " ") + "}"
		}
	}

	params := url.Values{
		"q":          {query},
		"maxResults": {strconv.Itoa(maxGmailMessages)},
	}
	var list gmailListResponse
	if err := f.getJSON(ctx, token, f.endpoint+"/users/me/messages?"+params.Encode(), &list); err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗: %w", err)
	}

	ids := make([]string, 0, len(list.Messages))
	for _, m := range list.Messages {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// getMessage は1件のメッセージをmetadata形式で取得する。
func (f *GmailFetcher) getMessage(ctx context.Context, token, id string) (*gmailMessage, error) {
	params := url.Values{
		"format":          {"metadata"},
		"metadataHeaders": {"Subject", "From"},
	}
	var msg gmailMessage
	if err := f.getJSON(ctx, token, f.endpoint+"/users/me/messages/"+id+"?"+params.Encode(), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// convert はGmailメッセージをContentItemへ変換する。
// internalDateがパースできない場合はゼロ値タイムスタンプのまま通す。
func (f *GmailFetcher) convert(msg *gmailMessage) model.ContentItem {
	subject, from := "", ""
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			subject = h.Value
		case "from":
			from = h.Value
		}
	}

	var ts time.Time
	if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil && ms > 0 {
		ts = time.UnixMilli(ms).UTC()
	} else {
		f.logger.Warn("メール受信日時をパースできませんでした",
			slog.String("message_id", msg.ID),
			slog.String("internal_date", msg.InternalDate),
		)
	}

	return model.ContentItem{
		ID:           stableID("email", msg.ID),
		SourceKind:   model.SourceKindEmail,
		SourceName:   "Gmail",
		SourceAuthor: from,
		Timestamp:    ts,
		Title:        f.cleaner.Clean(subject),
		Body:         f.cleaner.Clean(msg.Snippet),
	}
}

// getJSON はBearerトークン付きGETを実行しJSONをデコードする。
func (f *GmailFetcher) getJSON(ctx context.Context, token, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンス読み込みに失敗: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Gmail APIがエラーを返しました: status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンスのパースに失敗: %w", err)
	}
	return nil
}
