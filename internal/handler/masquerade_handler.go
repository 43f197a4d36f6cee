package handler

import (
	"net/http"

	"github.com/hitoshi/academy/internal/masquerade"
	"github.com/hitoshi/academy/internal/middleware"
	"github.com/hitoshi/academy/internal/model"
)

// MasqueradeHandler はタブ単位のなりすまし状態を扱うHTTPハンドラー。
// どの操作もX-Tab-IDヘッダーで識別されるタブのストレージだけを読み書きする。
type MasqueradeHandler struct{}

// NewMasqueradeHandler はMasqueradeHandlerを生成する。
func NewMasqueradeHandler() *MasqueradeHandler {
	return &MasqueradeHandler{}
}

type adoptRequest struct {
	URL string `json:"url"`
}

type masqueradeStateResponse struct {
	masquerade.Context
	Banner string `json:"banner,omitempty"`
}

type adoptResponse struct {
	masqueradeStateResponse
	URL     string `json:"url"`
	Adopted bool   `json:"adopted"`
}

type endResponse struct {
	masquerade.EndResult
	FallbackDelayMs int64 `json:"fallbackDelayMs"`
}

func stateResponse(c masquerade.Context) masqueradeStateResponse {
	return masqueradeStateResponse{Context: c, Banner: masquerade.Banner(c)}
}

// requireTab はタブのストレージを返す。X-Tab-IDがなければ400を書き込む。
func requireTab(w http.ResponseWriter, r *http.Request) (*masquerade.TabStorage, bool) {
	tab, ok := middleware.TabStorageFromContext(r.Context())
	if !ok {
		handleServiceError(w, r, model.NewValidationError(middleware.TabIDHeader+" header is required"))
		return nil, false
	}
	return tab, true
}

// Adopt は遷移先URLのなりすましパラメータをタブに取り込み、パラメータを除いたURLを返す。
// POST /api/masquerade/adopt
func (h *MasqueradeHandler) Adopt(w http.ResponseWriter, r *http.Request) {
	tab, ok := requireTab(w, r)
	if !ok {
		return
	}
	var req adoptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, cleanURL, adopted, err := masquerade.Adopt(tab, req.URL)
	if err != nil {
		handleServiceError(w, r, model.NewValidationError("url could not be parsed"))
		return
	}
	writeJSON(w, http.StatusOK, adoptResponse{
		masqueradeStateResponse: stateResponse(c),
		URL:                     cleanURL,
		Adopted:                 adopted,
	})
}

// State はタブのなりすまし状態とバナー文言を返す。
// GET /api/masquerade
func (h *MasqueradeHandler) State(w http.ResponseWriter, r *http.Request) {
	tab, ok := requireTab(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(masquerade.Load(tab)))
}

// End はタブのなりすまし状態を消去し、タブを閉じる指示を返す。
// POST /api/masquerade/end
func (h *MasqueradeHandler) End(w http.ResponseWriter, r *http.Request) {
	tab, ok := requireTab(w, r)
	if !ok {
		return
	}
	res := masquerade.End(tab)
	writeJSON(w, http.StatusOK, endResponse{EndResult: res, FallbackDelayMs: res.FallbackDelay.Milliseconds()})
}
