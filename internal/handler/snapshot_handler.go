package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/marketbrief/internal/briefing"
	"github.com/hitoshi/marketbrief/internal/model"
)

// BriefingServiceInterface はスナップショットハンドラーが必要とする構築サービス。
type BriefingServiceInterface interface {
	// BuildSnapshot は全ソースのフェッチと集約を実行してスナップショットを返す。
	BuildSnapshot(ctx context.Context, req briefing.Request) (*model.Snapshot, error)
}

// SnapshotStoreInterface はスナップショット履歴の読み取りインターフェース。
type SnapshotStoreInterface interface {
	// FindByID は指定IDのスナップショットを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Snapshot, error)
	// ListRecent はスナップショット履歴を新しい順に返す。
	ListRecent(ctx context.Context, timeframe model.Timeframe, limit int) ([]*model.Snapshot, error)
}

// SnapshotHandler はスナップショットAPIのHTTPハンドラー。
type SnapshotHandler struct {
	briefing BriefingServiceInterface
	store    SnapshotStoreInterface
}

// NewSnapshotHandler はSnapshotHandlerを生成する。
// storeがnilの場合、履歴系エンドポイントは404を返す構成になる（DBなし構成用）。
func NewSnapshotHandler(briefingService BriefingServiceInterface, store SnapshotStoreInterface) *SnapshotHandler {
	return &SnapshotHandler{
		briefing: briefingService,
		store:    store,
	}
}

// contentItemResponse はスコア済みアイテムのAPIレスポンス。
type contentItemResponse struct {
	ID         string    `json:"id"`
	SourceKind string    `json:"source_kind"`
	SourceName string    `json:"source_name"`
	SourceURL  string    `json:"source_url,omitempty"`
	Title      string    `json:"title"`
	Timestamp  time.Time `json:"timestamp"`
	Score      float64   `json:"score"`
	Tags       []string  `json:"tags"`
	Symbols    []string  `json:"symbols"`
	Sentiment  string    `json:"sentiment"`
}

// snapshotResponse はスナップショットのAPIレスポンス。
type snapshotResponse struct {
	ID                  string                `json:"id"`
	Timeframe           string                `json:"timeframe"`
	GeneratedAt         time.Time             `json:"generated_at"`
	SummaryText         string                `json:"summary_text"`
	KeyEvents           []contentItemResponse `json:"key_events"`
	AlertItems          []contentItemResponse `json:"alert_items"`
	CrossSourcePatterns []string              `json:"cross_source_patterns"`
	SourceBreakdown     map[string]int        `json:"source_breakdown"`
}

// snapshotListResponse はスナップショット履歴一覧のAPIレスポンス。
type snapshotListResponse struct {
	Snapshots []snapshotResponse `json:"snapshots"`
}

// BuildSnapshot は最新データからスナップショットを構築して返す。
// GET /api/snapshot?timeframe=today&filters=earnings,fed&symbols=AAPL,NVDA
func (h *SnapshotHandler) BuildSnapshot(w http.ResponseWriter, r *http.Request) {
	timeframe, ok := parseTimeframe(w, r.URL.Query().Get("timeframe"))
	if !ok {
		return
	}

	req := briefing.Request{
		Timeframe:       timeframe,
		Filters:         splitCommaList(r.URL.Query().Get("filters")),
		PrioritySymbols: splitCommaList(r.URL.Query().Get("symbols")),
	}

	snapshot, err := h.briefing.BuildSnapshot(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSnapshotResponse(snapshot))
}

// GetSnapshot は保存済みスナップショットをIDで取得する。
// GET /api/snapshots/{id}
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.store == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSnapshotNotFoundError(id))
		return
	}

	snapshot, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if snapshot == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSnapshotNotFoundError(id))
		return
	}

	writeJSON(w, http.StatusOK, toSnapshotResponse(snapshot))
}

// ListSnapshots はスナップショット履歴を新しい順に返す。
// GET /api/snapshots?timeframe=week&limit=10
func (h *SnapshotHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	var timeframe model.Timeframe
	if raw := r.URL.Query().Get("timeframe"); raw != "" {
		tf, ok := parseTimeframe(w, raw)
		if !ok {
			return
		}
		timeframe = tf
	}

	// limitは不正値の場合デフォルトにフォールバックする（上限100）。
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	if h.store == nil {
		writeJSON(w, http.StatusOK, snapshotListResponse{Snapshots: []snapshotResponse{}})
		return
	}

	snapshots, err := h.store.ListRecent(r.Context(), timeframe, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := snapshotListResponse{Snapshots: make([]snapshotResponse, len(snapshots))}
	for i, s := range snapshots {
		resp.Snapshots[i] = toSnapshotResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseTimeframe はクエリパラメータのタイムフレームを検証する。
// 空文字列はtodayとして扱う。不正な値の場合は400を書き込みfalseを返す。
func parseTimeframe(w http.ResponseWriter, raw string) (model.Timeframe, bool) {
	switch model.Timeframe(raw) {
	case "":
		return model.TimeframeToday, true
	case model.TimeframeToday:
		return model.TimeframeToday, true
	case model.TimeframeWeek:
		return model.TimeframeWeek, true
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidTimeframeError(raw))
		return "", false
	}
}

// splitCommaList はカンマ区切りのクエリパラメータを分解する。
// 空要素は除外する。
func splitCommaList(raw string) []string {
	if raw == "" {
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

func toContentItemResponse(item model.ContentItem) contentItemResponse {
	return contentItemResponse{
		ID:         item.ID,
		SourceKind: string(item.SourceKind),
		SourceName: item.SourceName,
		SourceURL:  item.SourceURL,
		Title:      item.Title,
		Timestamp:  item.Timestamp,
		Score:      item.Score,
		Tags:       item.Tags,
		Symbols:    item.Symbols,
		Sentiment:  string(item.Sentiment),
	}
}

func toSnapshotResponse(snapshot *model.Snapshot) snapshotResponse {
	keyEvents := make([]contentItemResponse, len(snapshot.KeyEvents))
	for i, item := range snapshot.KeyEvents {
		keyEvents[i] = toContentItemResponse(item)
	}
	alerts := make([]contentItemResponse, len(snapshot.AlertItems))
	for i, item := range snapshot.AlertItems {
		alerts[i] = toContentItemResponse(item)
	}
	breakdown := make(map[string]int, len(snapshot.SourceBreakdown))
	for kind, count := range snapshot.SourceBreakdown {
		breakdown[string(kind)] = count
	}

	return snapshotResponse{
		ID:                  snapshot.ID,
		Timeframe:           string(snapshot.Timeframe),
		GeneratedAt:         snapshot.GeneratedAt,
		SummaryText:         snapshot.SummaryText,
		KeyEvents:           keyEvents,
		AlertItems:          alerts,
		CrossSourcePatterns: snapshot.CrossSourcePatterns,
		SourceBreakdown:     breakdown,
	}
}
