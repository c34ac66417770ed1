package model

import "time"

// Snapshot は1回の集約パスの出力を表す。
// 各シーケンスはスコア降順（同点はタイムスタンプ降順）で整列済み。
type Snapshot struct {
	ID          string
	Timeframe   Timeframe
	GeneratedAt time.Time

	// SummaryText は1段落のエグゼクティブサマリー。
	// 空入力の場合も「データなし」を示す非空文字列が入る。
	SummaryText string

	// KeyEvents はソース種別ごとの上位K件を統合した主要イベント。最大10件。
	KeyEvents []ContentItem

	// AlertItems はスコアがアラート閾値以上のアイテム。最大5件。
	AlertItems []ContentItem

	// CrossSourcePatterns は複数ソースで裏付けられたシンボル/タグの
	// パターン文字列。最大5件、シンボル優先。
	CrossSourcePatterns []string

	// SourceBreakdown はソース種別ごとの全アイテム数（フィルタ前）。
	SourceBreakdown map[SourceKind]int
}

// Timeframe は取得対象の時間範囲を表す。
type Timeframe string

const (
	// TimeframeToday は当日分を表す。
	TimeframeToday Timeframe = "today"
	// TimeframeWeek は直近1週間分を表す。
	TimeframeWeek Timeframe = "week"
)

// Hours はタイムフレームに対応する時間数を返す。
// 未知の値はTimeframeTodayと同じ24時間として扱う。
func (tf Timeframe) Hours() int {
	if tf == TimeframeWeek {
		return 24 * 7
	}
	return 24
}
