// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/academy/internal/middleware"
	"github.com/hitoshi/academy/internal/model"
)

// maxJSONBody はJSONリクエストボディの上限サイズ。
const maxJSONBody = 1 << 20

func newInvalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "The request body could not be parsed.",
		Category: "validation",
		Action:   "Send a valid JSON body.",
	}
}

// decodeJSON はリクエストボディをvにデコードする。失敗時はエラーレスポンスを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	middleware.WriteJSON(w, statusCode, v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidDeepLink, "INVALID_REQUEST":
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthenticated, model.ErrCodeInvalidResetToken:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeMasqueradeNotAllowed, model.ErrCodeCSRF:
		return http.StatusForbidden
	case model.ErrCodeDashboardNotFound, model.ErrCodeApprenticeNotAdded, model.ErrCodeSubmissionNotFound,
		model.ErrCodeMasqueradeTarget, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailTaken, model.ErrCodeApprenticeExists:
		return http.StatusConflict
	case model.ErrCodeProfileUnavailable, model.ErrCodeSessionLoading:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// logRequestError はレスポンスには影響しない失敗をログに残す。
func logRequestError(r *http.Request, msg string, err error) {
	slog.Warn(msg,
		slog.String("client_id", middleware.ClientIDFromContext(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}
