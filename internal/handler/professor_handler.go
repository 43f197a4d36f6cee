package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/academy/internal/masquerade"
	"github.com/hitoshi/academy/internal/middleware"
	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/review"
	"github.com/hitoshi/academy/internal/validate"
)

// ApprenticeService は見習いの登録と一覧のサービスインターフェース。
type ApprenticeService interface {
	Add(ctx context.Context, professorEmail string, in validate.NewApprentice) (*model.Apprentice, error)
	ListForProfessor(ctx context.Context, professorEmail string) ([]*model.Apprentice, error)
	ListAll(ctx context.Context) ([]*model.Apprentice, error)
	ListProfessors(ctx context.Context) ([]*model.Profile, error)
	Me(ctx context.Context, email string) (*model.Apprentice, error)
}

// ReviewService は提出物の一覧とレビューのサービスインターフェース。
type ReviewService interface {
	List(ctx context.Context, professorEmail string, status model.SubmissionStatus) ([]*model.Submission, error)
	Review(ctx context.Context, reviewer review.Reviewer, id string, in validate.Review) (*model.Submission, error)
}

// PhaseUnlocker はフェーズ2を開放する。
type PhaseUnlocker interface {
	UnlockPhase2(ctx context.Context, token, professorEmail string) (*model.Apprentice, error)
}

// ProfessorHandler は講師向けビューのHTTPハンドラー。
// 管理者がタブで講師になりすましている場合は、その講師として振る舞う。
type ProfessorHandler struct {
	apprentices ApprenticeService
	reviews     ReviewService
	unlocker    PhaseUnlocker
}

// NewProfessorHandler はProfessorHandlerを生成する。
func NewProfessorHandler(apprentices ApprenticeService, reviews ReviewService, unlocker PhaseUnlocker) *ProfessorHandler {
	return &ProfessorHandler{apprentices: apprentices, reviews: reviews, unlocker: unlocker}
}

// actingProfessor はリクエストが代表する講師を返す。
// adminは管理者本人として操作していてなりすまし中でない場合にtrue。
func actingProfessor(r *http.Request) (email string, admin bool, ok bool) {
	requester, ok := middleware.ProfileFromContext(r.Context())
	if !ok {
		return "", false, false
	}
	var c masquerade.Context
	if tab, found := middleware.TabStorageFromContext(r.Context()); found {
		c = masquerade.Load(tab)
	}
	email = masquerade.EffectiveProfessorEmail(c, requester)
	admin = requester.Role == model.RoleAdmin && strings.EqualFold(email, requester.Email)
	return email, admin, true
}

// requireProfessor はactingProfessorの結果がなければ403を書き込む。
func requireProfessor(w http.ResponseWriter, r *http.Request) (string, bool, bool) {
	email, admin, ok := actingProfessor(r)
	if !ok {
		handleServiceError(w, r, model.NewForbiddenError())
		return "", false, false
	}
	return email, admin, true
}

// ListApprentices は講師の見習い一覧を返す。
// GET /api/professor/apprentices
func (h *ProfessorHandler) ListApprentices(w http.ResponseWriter, r *http.Request) {
	email, _, ok := requireProfessor(w, r)
	if !ok {
		return
	}
	list, err := h.apprentices.ListForProfessor(r.Context(), email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*model.Apprentice{}
	}
	writeJSON(w, http.StatusOK, list)
}

// AddApprentice は見習いを登録する。
// POST /api/professor/apprentices
func (h *ProfessorHandler) AddApprentice(w http.ResponseWriter, r *http.Request) {
	email, _, ok := requireProfessor(w, r)
	if !ok {
		return
	}
	var req validate.NewApprentice
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.apprentices.Add(r.Context(), email, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// UnlockPhase2 は見習いのフェーズ2を開放する。管理者本人は担当外の見習いも開放できる。
// POST /api/professor/apprentices/{token}/phase2
func (h *ProfessorHandler) UnlockPhase2(w http.ResponseWriter, r *http.Request) {
	email, admin, ok := requireProfessor(w, r)
	if !ok {
		return
	}
	if admin {
		email = ""
	}
	a, err := h.unlocker.UnlockPhase2(r.Context(), chi.URLParam(r, "token"), email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListSubmissions は講師宛ての提出物を返す。statusで絞り込める。
// GET /api/professor/submissions?status=
func (h *ProfessorHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	email, _, ok := requireProfessor(w, r)
	if !ok {
		return
	}
	status := model.SubmissionStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		handleServiceError(w, r, model.NewValidationError("status must be Pending, Approved or Needs Work"))
		return
	}
	subs, err := h.reviews.List(r.Context(), email, status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*model.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// ReviewSubmission は提出物のレビュー結果を保存する。
// POST /api/professor/submissions/{id}/review
func (h *ProfessorHandler) ReviewSubmission(w http.ResponseWriter, r *http.Request) {
	email, admin, ok := requireProfessor(w, r)
	if !ok {
		return
	}
	var req validate.Review
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := h.reviews.Review(r.Context(), review.Reviewer{Email: email, Admin: admin}, chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ApprenticeHandler はログイン中の見習い向けのHTTPハンドラー。
type ApprenticeHandler struct {
	apprentices ApprenticeService
}

// NewApprenticeHandler はApprenticeHandlerを生成する。
func NewApprenticeHandler(apprentices ApprenticeService) *ApprenticeHandler {
	return &ApprenticeHandler{apprentices: apprentices}
}

// Me はログイン中の見習いのレコードを返す。クライアントはdashboardTokenでダッシュボードへ遷移する。
// GET /api/apprentice/me
func (h *ApprenticeHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.ProfileFromContext(r.Context())
	if !ok {
		handleServiceError(w, r, model.NewForbiddenError())
		return
	}
	a, err := h.apprentices.Me(r.Context(), p.Email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
