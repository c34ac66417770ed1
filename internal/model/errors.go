package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, config, source, system
	Action   string // 操作者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidConfig    = "INVALID_CONFIG"
	ErrCodeInvalidTimeframe = "INVALID_TIMEFRAME"
	ErrCodeInvalidAuthority = "INVALID_AUTHORITY"
	ErrCodeSourceUnknown    = "SOURCE_UNKNOWN"
	ErrCodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	ErrCodeSSRFBlocked      = "SSRF_BLOCKED"
	ErrCodeFetchFailed      = "FETCH_FAILED"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// NewInvalidConfigError は設定検証エラーを生成する。
// スコアラー構築時のfail-fast検証で使用する。
func NewInvalidConfigError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidConfig,
		Message:  fmt.Sprintf("スコアリング設定が不正です: %s", reason),
		Category: "config",
		Action:   "環境変数の重み・キーワード階層・閾値の設定を確認してください。",
	}
}

// NewInvalidTimeframeError は無効なタイムフレームエラーを生成する。
func NewInvalidTimeframeError(tf string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimeframe,
		Message:  fmt.Sprintf("無効なタイムフレームです: %s", tf),
		Category: "validation",
		Action:   "タイムフレームには today または week を指定してください。",
	}
}

// NewInvalidAuthorityError は権威スコア更新の検証エラーを生成する。
func NewInvalidAuthorityError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAuthority,
		Message:  fmt.Sprintf("権威スコアの更新値が不正です: %s", reason),
		Category: "validation",
		Action:   "ソース名を空にせず、スコアは0〜100の整数を指定してください。",
	}
}

// NewSnapshotNotFoundError はスナップショット未検出エラーを生成する。
func NewSnapshotNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeSnapshotNotFound,
		Message:  fmt.Sprintf("指定されたスナップショットが見つかりません: %s", id),
		Category: "validation",
		Action:   "スナップショットIDを確認してください。",
	}
}

// NewRateLimitedError は外部API呼び出し予算の超過エラーを生成する。
func NewRateLimitedError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  fmt.Sprintf("ソースの呼び出し予算を超過しました: %s", sourceID),
		Category: "source",
		Action:   "しばらく待ってから再度お試しください。キャッシュ済みの結果は引き続き利用できます。",
	}
}
