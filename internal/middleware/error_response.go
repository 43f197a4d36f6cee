package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/academy/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// Redirectはガードが遷移先を指示する場合のみ設定される。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Redirect string `json:"redirect,omitempty"`
}

// WriteJSON はステータスコードとJSONボディを書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeError(w, statusCode, apiErr, "")
}

// WriteRedirectError は遷移先を含むエラーレスポンスを書き込む。
func WriteRedirectError(w http.ResponseWriter, statusCode int, apiErr *model.APIError, redirect string) {
	writeError(w, statusCode, apiErr, redirect)
}

func writeError(w http.ResponseWriter, statusCode int, apiErr *model.APIError, redirect string) {
	WriteJSON(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Redirect: redirect,
	})
}

// WriteInternalServerError は内部エラーの統一レスポンスを書き込む。詳細はログのみに残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "Something went wrong.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	})
}
