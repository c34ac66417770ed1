package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/marketbrief/internal/authority"
	"github.com/hitoshi/marketbrief/internal/model"
)

// AuthorityServiceInterface は権威スコアハンドラーが必要とするサービス。
type AuthorityServiceInterface interface {
	// Lookup はソース名に対する現在の権威スコアを返す。
	Lookup(sourceName string) int
	// Set はソース名の権威スコアを検証して更新する。
	Set(ctx context.Context, sourceName string, score int) error
	// Overrides は現在の上書きエントリ一覧をソース名昇順で返す。
	Overrides() []authority.Override
}

// AuthorityHandler は権威スコアAPIのHTTPハンドラー。
type AuthorityHandler struct {
	service AuthorityServiceInterface
}

// NewAuthorityHandler はAuthorityHandlerを生成する。
func NewAuthorityHandler(service AuthorityServiceInterface) *AuthorityHandler {
	return &AuthorityHandler{service: service}
}

// authorityEntryResponse は1件の権威スコアエントリのAPIレスポンス。
type authorityEntryResponse struct {
	SourceName string `json:"source_name"`
	Score      int    `json:"score"`
}

// authorityListResponse は上書きエントリ一覧のAPIレスポンス。
type authorityListResponse struct {
	Overrides []authorityEntryResponse `json:"overrides"`
}

// setAuthorityRequest は権威スコア更新のリクエストボディ。
type setAuthorityRequest struct {
	Score int `json:"score"`
}

// ListOverrides は上書きエントリ一覧をソース名昇順で返す。
// GET /api/authority
func (h *AuthorityHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides := h.service.Overrides()

	resp := authorityListResponse{Overrides: make([]authorityEntryResponse, len(overrides))}
	for i, o := range overrides {
		resp.Overrides[i] = authorityEntryResponse{SourceName: o.SourceName, Score: o.Score}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetScore は指定ソースの現在の権威スコアを返す。
// 未登録のソースでも既知フラグメント一致またはデフォルト値を返すため404にはならない。
// GET /api/authority/{source}
func (h *AuthorityHandler) GetScore(w http.ResponseWriter, r *http.Request) {
	sourceName := chi.URLParam(r, "source")

	writeJSON(w, http.StatusOK, authorityEntryResponse{
		SourceName: sourceName,
		Score:      h.service.Lookup(sourceName),
	})
}

// SetScore は指定ソースの権威スコアを更新する。
// PUT /api/authority/{source}
func (h *AuthorityHandler) SetScore(w http.ResponseWriter, r *http.Request) {
	sourceName := chi.URLParam(r, "source")

	var req setAuthorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidAuthorityError("リクエストボディのJSONが不正です"))
		return
	}

	if err := h.service.Set(r.Context(), sourceName, req.Score); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authorityEntryResponse{
		SourceName: sourceName,
		Score:      req.Score,
	})
}
