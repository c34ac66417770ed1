// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FeedSource は1件のRSS/Atomフィード定義。
type FeedSource struct {
	Name string
	URL  string
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database（空の場合はスナップショット永続化を無効化する）
	DatabaseURL string

	// Cache（空の場合はインメモリキャッシュにフォールバック）
	RedisAddr string

	// Sources
	NewsFeeds    []FeedSource
	PodcastFeeds []FeedSource

	// Gmail（3つすべて設定された場合のみメールソースを有効化する）
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string

	// Scoring
	WeightTags         float64
	WeightSymbols      float64
	WeightAuthority    float64
	WeightRecency      float64
	KeywordTiersHigh   []string
	KeywordTiersMedium []string
	KeywordTiersLow    []string
	MajorSymbols       []string
	PositiveWords      []string
	NegativeWords      []string
	RecencyWindowHours float64
	AlertThreshold     float64
	TopKPerKind        int

	// Authority（設定由来の上書き。API経由で永続化された値が後勝ちする）
	AuthorityOverrides map[string]int

	// Fetch
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	FetchCacheTTL      time.Duration

	// ソースあたりの外部API呼び出し予算（calls/min）
	SourceBudgetPerMin int

	// Rate Limit（クライアントIPあたりのrequests/min）
	RateLimitGeneral  int
	RateLimitSnapshot int

	// Worker
	RefreshInterval       time.Duration
	SnapshotRetentionDays int

	// Server
	ServerPort        string
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 設定の形状エラー（パース不能なフィード定義・上書き指定）はエラーを返す。
// 未設定の値はすべてデフォルトで補完される。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	var err error
	cfg.NewsFeeds, err = parseFeedSources(os.Getenv("NEWS_FEEDS"))
	if err != nil {
		return nil, fmt.Errorf("NEWS_FEEDSのパースに失敗しました: %w", err)
	}
	cfg.PodcastFeeds, err = parseFeedSources(os.Getenv("PODCAST_FEEDS"))
	if err != nil {
		return nil, fmt.Errorf("PODCAST_FEEDSのパースに失敗しました: %w", err)
	}

	cfg.GmailClientID = os.Getenv("GMAIL_CLIENT_ID")
	cfg.GmailClientSecret = os.Getenv("GMAIL_CLIENT_SECRET")
	cfg.GmailRefreshToken = os.Getenv("GMAIL_REFRESH_TOKEN")
	if err := validateGmailVars(cfg); err != nil {
		return nil, err
	}

	cfg.WeightTags = getEnvFloat("SCORE_WEIGHT_TAGS", 35)
	cfg.WeightSymbols = getEnvFloat("SCORE_WEIGHT_SYMBOLS", 35)
	cfg.WeightAuthority = getEnvFloat("SCORE_WEIGHT_AUTHORITY", 20)
	cfg.WeightRecency = getEnvFloat("SCORE_WEIGHT_RECENCY", 10)
	cfg.KeywordTiersHigh = getEnvCSV("KEYWORDS_HIGH")
	cfg.KeywordTiersMedium = getEnvCSV("KEYWORDS_MEDIUM")
	cfg.KeywordTiersLow = getEnvCSV("KEYWORDS_LOW")
	cfg.MajorSymbols = getEnvCSV("MAJOR_SYMBOLS")
	cfg.PositiveWords = getEnvCSV("SENTIMENT_POSITIVE_WORDS")
	cfg.NegativeWords = getEnvCSV("SENTIMENT_NEGATIVE_WORDS")
	cfg.RecencyWindowHours = getEnvFloat("RECENCY_WINDOW_HOURS", 48)
	cfg.AlertThreshold = getEnvFloat("ALERT_THRESHOLD", 80)
	cfg.TopKPerKind = getEnvInt("TOP_K_PER_KIND", 5)

	cfg.AuthorityOverrides, err = parseAuthorityOverrides(os.Getenv("AUTHORITY_OVERRIDES"))
	if err != nil {
		return nil, fmt.Errorf("AUTHORITY_OVERRIDESのパースに失敗しました: %w", err)
	}

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 4)
	cfg.FetchCacheTTL = getEnvDuration("FETCH_CACHE_TTL", 5*time.Minute)
	cfg.SourceBudgetPerMin = getEnvInt("SOURCE_BUDGET_PER_MIN", 30)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSnapshot = getEnvInt("RATE_LIMIT_SNAPSHOT", 12)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 15*time.Minute)
	cfg.SnapshotRetentionDays = getEnvInt("SNAPSHOT_RETENTION_DAYS", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// GmailEnabled はメールソースが有効かどうかを返す。
func (c *Config) GmailEnabled() bool {
	return c.GmailClientID != "" && c.GmailClientSecret != "" && c.GmailRefreshToken != ""
}

// validateGmailVars はGmail関連の環境変数が部分的にだけ設定されていないか検証する。
// 中途半端な設定は気付きにくい起動時バグになるためfail-fastで弾く。
func validateGmailVars(cfg *Config) error {
	set := 0
	var missing []string
	for _, v := range []struct {
		key   string
		value string
	}{
		{"GMAIL_CLIENT_ID", cfg.GmailClientID},
		{"GMAIL_CLIENT_SECRET", cfg.GmailClientSecret},
		{"GMAIL_REFRESH_TOKEN", cfg.GmailRefreshToken},
	} {
		if v.value != "" {
			set++
		} else {
			missing = append(missing, v.key)
		}
	}
	if set > 0 && set < 3 {
		return fmt.Errorf("Gmail設定が不完全です。未設定: %v", missing)
	}
	return nil
}

// parseFeedSources は "名前=URL" のカンマ区切りリストをパースする。
// 例: "Reuters=https://example.com/rss,Bloomberg=https://example.org/feed"
func parseFeedSources(raw string) ([]FeedSource, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []FeedSource
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, url, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		url = strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("無効なフィード定義です（名前=URL形式で指定してください）: %q", pair)
		}
		out = append(out, FeedSource{Name: name, URL: url})
	}
	return out, nil
}

// parseAuthorityOverrides は "ソース名=スコア" のカンマ区切りリストをパースする。
// 例: "my newsletter=40,cnbc=75"
func parseAuthorityOverrides(raw string) (map[string]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	out := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, scoreStr, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("無効な上書き指定です（ソース名=スコア形式で指定してください）: %q", pair)
		}
		score, err := strconv.Atoi(strings.TrimSpace(scoreStr))
		if err != nil || score < 0 || score > 100 {
			return nil, fmt.Errorf("無効なスコアです（0〜100の整数で指定してください）: %q", pair)
		}
		out[name] = score
	}
	return out, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvCSV(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// HasCustomKeywordTiers はキーワード階層が環境変数で上書きされているかを返す。
// falseの場合はscoringパッケージ側の組み込み語彙を使用する。
func (c *Config) HasCustomKeywordTiers() bool {
	return len(c.KeywordTiersHigh) > 0 || len(c.KeywordTiersMedium) > 0 || len(c.KeywordTiersLow) > 0
}
