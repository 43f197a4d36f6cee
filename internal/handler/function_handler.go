package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/notify"
)

// OrientationMailer はオリエンテーション提出のメールを送る。*notify.Emailsが実装する。
type OrientationMailer interface {
	SendOrientation(ctx context.Context, n notify.OrientationNotification) error
}

var _ OrientationMailer = (*notify.Emails)(nil)

// FunctionHandler はサーバー内部から呼ばれる通知関数のHTTPハンドラー。
type FunctionHandler struct {
	mailer      OrientationMailer
	apprentices ApprenticeFinder
	secret      string
}

// NewFunctionHandler はFunctionHandlerを生成する。secretが空ならBearer認証はしない。
// 宛先は常に通知対象の見習いの担当講師に限られる。
func NewFunctionHandler(mailer OrientationMailer, apprentices ApprenticeFinder, secret string) *FunctionHandler {
	return &FunctionHandler{mailer: mailer, apprentices: apprentices, secret: secret}
}

func (h *FunctionHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}

// OrientationNotification は提出通知を受け取り、担当講師へメールを送る。
// POST /functions/orientation-notification
func (h *FunctionHandler) OrientationNotification(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		handleServiceError(w, r, model.NewUnauthenticatedError())
		return
	}
	var n notify.OrientationNotification
	if !decodeJSON(w, r, &n) {
		return
	}
	if err := h.checkRecipient(r.Context(), n); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := h.mailer.SendOrientation(r.Context(), n); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

// checkRecipient は宛先の講師が通知対象の見習いを担当していることを確かめる。
func (h *FunctionHandler) checkRecipient(ctx context.Context, n notify.OrientationNotification) error {
	if n.Progress.ApprenticeEmail == "" || n.ProfessorEmail == "" {
		return model.NewValidationError("apprenticeEmail and professorEmail are required")
	}
	a, err := h.apprentices.FindByEmail(ctx, n.Progress.ApprenticeEmail)
	if err != nil {
		return fmt.Errorf("failed to find apprentice: %w", err)
	}
	if a == nil || !strings.EqualFold(a.ProfessorEmail, n.ProfessorEmail) {
		return model.NewForbiddenError()
	}
	return nil
}
