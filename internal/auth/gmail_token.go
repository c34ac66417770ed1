// Package auth はGmail API呼び出し用のOAuth 2.0トークン管理を提供する。
// 操作者が事前に取得したリフレッシュトークンからアクセストークンを
// 更新するサーバー間フローのみを扱い、対話的なログインフローは持たない。
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"

// expiryMargin はトークン失効前に更新を始める余裕時間。
const expiryMargin = 60 * time.Second

// GmailTokenConfig はトークン更新フローの設定。
type GmailTokenConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// テスト用にオーバーライド可能なURL
	TokenURL string
}

// GmailTokenSource はリフレッシュトークンからアクセストークンを取得し、
// 失効までキャッシュする。並行アクセスに対して安全。
type GmailTokenSource struct {
	config     GmailTokenConfig
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewGmailTokenSource はGmailTokenSourceを生成する。
func NewGmailTokenSource(config GmailTokenConfig) *GmailTokenSource {
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	return &GmailTokenSource{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// tokenResponse はGoogleのトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token は有効なアクセストークンを返す。
// キャッシュ済みトークンが失効間近の場合はリフレッシュトークンで更新する。
func (s *GmailTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Now().Before(s.expiresAt.Add(-expiryMargin)) {
		return s.accessToken, nil
	}

	resp, err := s.refresh(ctx)
	if err != nil {
		return "", err
	}

	s.accessToken = resp.AccessToken
	s.expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return s.accessToken, nil
}

// refresh はリフレッシュトークンでアクセストークンを更新する。
func (s *GmailTokenSource) refresh(ctx context.Context) (*tokenResponse, error) {
	data := url.Values{
		"client_id":     {s.config.ClientID},
		"client_secret": {s.config.ClientSecret},
		"refresh_token": {s.config.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tr, nil
}
