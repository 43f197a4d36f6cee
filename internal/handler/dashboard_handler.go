package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/academy/internal/dashboard"
	"github.com/hitoshi/academy/internal/middleware"
	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/realtime"
)

// DashboardView は1つのダッシュボード表示。*dashboard.Viewが実装する。
type DashboardView interface {
	Load(ctx context.Context) (*dashboard.Dashboard, error)
}

// DashboardService はダッシュボードハンドラーが必要とするサービスインターフェース。
type DashboardService interface {
	Open(token string) DashboardView
	UpdateChecklist(ctx context.Context, token string, field model.ChecklistField, checked bool) error
	UnlockPhase2(ctx context.Context, token, professorEmail string) (*model.Apprentice, error)
}

// ChangeSubscriber は見習い単位の変更通知を購読する。*realtime.Hubが実装する。
type ChangeSubscriber interface {
	Subscribe(apprenticeEmail string, handler realtime.Handler) func()
}

var _ ChangeSubscriber = (*realtime.Hub)(nil)

// defaultHeartbeat はイベントストリームの接続維持コメントの送信間隔。
const defaultHeartbeat = 25 * time.Second

// DashboardHandler は見習いダッシュボードのHTTPハンドラー。
// ダッシュボードトークンがケイパビリティなので、ログインは要求しない。
type DashboardHandler struct {
	service   DashboardService
	changes   ChangeSubscriber
	heartbeat time.Duration
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(service DashboardService, changes ChangeSubscriber) *DashboardHandler {
	return &DashboardHandler{service: service, changes: changes, heartbeat: defaultHeartbeat}
}

type checklistRequest struct {
	Checked *bool `json:"checked"`
}

// Get はダッシュボードを返す。
// GET /api/dashboard/{token}
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Open(chi.URLParam(r, "token")).Load(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateChecklist はチェックリストの1項目を更新する。書き込みの完了は待たない。
// PUT /api/dashboard/{token}/checklist/{field}
func (h *DashboardHandler) UpdateChecklist(w http.ResponseWriter, r *http.Request) {
	var req checklistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Checked == nil {
		handleServiceError(w, r, model.NewValidationError("checked is required"))
		return
	}

	token := chi.URLParam(r, "token")
	field := model.ChecklistField(chi.URLParam(r, "field"))
	if err := h.service.UpdateChecklist(r.Context(), token, field, *req.Checked); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"field": field, "checked": *req.Checked})
}

// Events は変更のたびに組み立て直したダッシュボードをServer-Sent Eventsで送る。
// 最初に現在のダッシュボードを1回送る。変更が続いた場合は1回の再読み込みにまとめる。
// GET /api/dashboard/{token}/events
func (h *DashboardHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view := h.service.Open(chi.URLParam(r, "token"))
	d, err := view.Load(ctx)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// ストリームはサーバーの書き込みタイムアウトの対象外にする
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	changed := make(chan struct{}, 1)
	unsubscribe := h.changes.Subscribe(d.Apprentice.Email, func(realtime.Change) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := writeEvent(w, "dashboard", d); err != nil {
		return
	}
	_ = rc.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case <-changed:
			d, err := view.Load(ctx)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					writeEvent(w, "error", middleware.ErrorResponseBody{
						Code:     apiErr.Code,
						Message:  apiErr.Message,
						Category: apiErr.Category,
						Action:   apiErr.Action,
					})
					_ = rc.Flush()
					return
				}
				slog.Warn("dashboard reload failed", slog.String("error", err.Error()))
				continue
			}
			if err := writeEvent(w, "dashboard", d); err != nil {
				return
			}
		}
		_ = rc.Flush()
	}
}

func writeEvent(w io.Writer, event string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", buf)
	return err
}
