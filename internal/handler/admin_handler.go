package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/academy/internal/masquerade"
	"github.com/hitoshi/academy/internal/middleware"
	"github.com/hitoshi/academy/internal/model"
)

// MasqueradeStarter はなりすましを開始する。*masquerade.Serviceが実装する。
type MasqueradeStarter interface {
	Begin(ctx context.Context, storage masquerade.Storage, admin *model.Profile, targetEmail string, targetType masquerade.TargetType) (string, error)
}

var _ MasqueradeStarter = (*masquerade.Service)(nil)

// AdminHandler は管理者ビューのHTTPハンドラー。
type AdminHandler struct {
	apprentices ApprenticeService
	masquerade  MasqueradeStarter
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(apprentices ApprenticeService, starter MasqueradeStarter) *AdminHandler {
	return &AdminHandler{apprentices: apprentices, masquerade: starter}
}

type masqueradeRequest struct {
	TargetEmail string                `json:"targetEmail"`
	TargetType  masquerade.TargetType `json:"targetType"`
}

// ListProfessors は全講師を返す。
// GET /api/admin/professors
func (h *AdminHandler) ListProfessors(w http.ResponseWriter, r *http.Request) {
	list, err := h.apprentices.ListProfessors(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*model.Profile{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ListApprentices は全見習いを返す。
// GET /api/admin/apprentices
func (h *AdminHandler) ListApprentices(w http.ResponseWriter, r *http.Request) {
	list, err := h.apprentices.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*model.Apprentice{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Masquerade は現在のタブでなりすましを開始し、対象ビューのURLを返す。
// POST /api/admin/masquerade
func (h *AdminHandler) Masquerade(w http.ResponseWriter, r *http.Request) {
	tab, ok := requireTab(w, r)
	if !ok {
		return
	}
	admin, ok := middleware.ProfileFromContext(r.Context())
	if !ok {
		handleServiceError(w, r, model.NewMasqueradeNotAllowedError())
		return
	}
	var req masqueradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target, err := h.masquerade.Begin(r.Context(), tab, admin, req.TargetEmail, req.TargetType)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": target})
}
