package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/academy/internal/middleware"
	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/session"
)

// AuthHandler はクライアントのセッション操作を扱うHTTPハンドラー。
// 操作対象のManagerはクライアントミドルウェアがコンテキストに格納したものを使う。
type AuthHandler struct {
	readyTimeout time.Duration
}

// NewAuthHandler はAuthHandlerを生成する。readyTimeoutは/auth/meが状態確定を待つ上限。
func NewAuthHandler(readyTimeout time.Duration) *AuthHandler {
	if readyTimeout <= 0 {
		readyTimeout = middleware.DefaultReadyTimeout
	}
	return &AuthHandler{readyTimeout: readyTimeout}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Name     string     `json:"name"`
	Role     model.Role `json:"role"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type recoverRequest struct {
	Token string `json:"token"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// meResponse はクライアントの認証状態。
type meResponse struct {
	State          session.State  `json:"state"`
	Loading        bool           `json:"loading"`
	ProfilePending bool           `json:"profilePending"`
	User           *userResponse  `json:"user"`
	Profile        *model.Profile `json:"profile"`
}

func toMeResponse(s session.Snapshot) meResponse {
	resp := meResponse{
		State:          s.State,
		Loading:        s.Loading,
		ProfilePending: s.ProfilePending,
		Profile:        s.Profile,
	}
	if s.User != nil {
		resp.User = &userResponse{ID: s.User.ID, Email: s.User.Email}
	}
	return resp
}

// manager はコンテキストのManagerを返す。なければ500を書き込む。
func manager(w http.ResponseWriter, r *http.Request) (*session.Manager, bool) {
	m, ok := middleware.ManagerFromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return m, true
}

// writeState は状態の確定を待ってから認証状態を返す。待ちきれなければ途中の状態を返す。
func (h *AuthHandler) writeState(w http.ResponseWriter, r *http.Request, m *session.Manager, status int) {
	ctx, cancel := context.WithTimeout(r.Context(), h.readyTimeout)
	defer cancel()
	snap, _ := m.WaitReady(ctx)
	writeJSON(w, status, toMeResponse(snap))
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w, r)
	if !ok {
		return
	}
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := m.SignIn(r.Context(), req.Email, req.Password); err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.writeState(w, r, m, http.StatusOK)
}

// SignUp はアカウントを作成してサインインする。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w, r)
	if !ok {
		return
	}
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := m.SignUp(r.Context(), session.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     req.Role,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.writeState(w, r, m, http.StatusCreated)
}

// SignOut はサインアウトする。サーバー側の破棄に失敗してもクライアントの状態は消去される。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w, r)
	if !ok {
		return
	}
	if err := m.SignOut(r.Context()); err != nil {
		logRequestError(r, "sign-out revoke failed", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword はパスワード再設定メールを要求する。
// アカウントの有無を漏らさないため、形式が正しければ常に202を返す。
// POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w, r)
	if !ok {
		return
	}
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := m.ResetPassword(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"sent": true})
}

// Recover は再設定リンクのトークンでサインインする。
// POST /auth/recover
func (h *AuthHandler) Recover(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w, r)
	if !ok {
		return
	}
	var req recoverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := m.Recover(r.Context(), req.Token); err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.writeState(w, r, m, http.StatusOK)
}

// UpdatePassword はログイン中のユーザーのパスワードを変更する。
// PUT /auth/password
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w, r)
	if !ok {
		return
	}
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := m.UpdatePassword(r.Context(), req.Password); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshProfile はプロフィールを強制的に再取得する。
// POST /auth/profile/refresh
func (h *AuthHandler) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w, r)
	if !ok {
		return
	}
	p, err := m.RefreshProfile(r.Context())
	if err != nil {
		if p == nil {
			handleServiceError(w, r, asProfileError(r, err))
			return
		}
		// 取得に失敗しても直前のキャッシュは返す
		logRequestError(r, "profile refresh failed", err)
	}
	writeJSON(w, http.StatusOK, p)
}

// Visibility はタブが再表示されたことを通知する。必要ならトークンを更新する。
// POST /auth/visibility
func (h *AuthHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w, r)
	if !ok {
		return
	}
	if err := m.Resume(r.Context()); err != nil {
		logRequestError(r, "session resume failed", err)
	}
	writeJSON(w, http.StatusOK, toMeResponse(m.Snapshot()))
}

// Me は現在の認証状態を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w, r)
	if !ok {
		return
	}
	h.writeState(w, r, m, http.StatusOK)
}

// asProfileError はAPIError以外のプロフィール取得失敗を PROFILE_UNAVAILABLE に変換する。
func asProfileError(r *http.Request, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	logRequestError(r, "profile refresh failed", err)
	return model.NewProfileUnavailableError()
}
