package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/academy/internal/dashboard"
	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/realtime"
)

func sampleDashboard() *dashboard.Dashboard {
	return &dashboard.Dashboard{
		Apprentice:     dashboard.ApprenticeInfo{Name: "Ada", Email: "ada@example.com"},
		TotalModules:   4,
		OverallPercent: 25,
		Phase2:         dashboard.GateLocked,
	}
}

// --- テスト ---

func TestDashboardHandler_Get_Success(t *testing.T) {
	var gotToken string
	svc := &mockDashboardService{
		openFn: func(token string) DashboardView {
			gotToken = token
			return &mockView{loadFn: func(context.Context) (*dashboard.Dashboard, error) {
				return sampleDashboard(), nil
			}}
		},
	}
	h := NewDashboardHandler(svc, newMockSubscriber())

	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/api/dashboard/abc", nil), "token", "abc")
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotToken != "abc" {
		t.Errorf("token = %q, want abc", gotToken)
	}
	var d dashboard.Dashboard
	if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if d.OverallPercent != 25 || d.Phase2 != dashboard.GateLocked {
		t.Errorf("dashboard = %+v", d)
	}
}

func TestDashboardHandler_Get_UnknownToken_ReturnsNotFound(t *testing.T) {
	svc := &mockDashboardService{
		openFn: func(string) DashboardView {
			return &mockView{loadFn: func(context.Context) (*dashboard.Dashboard, error) {
				return nil, model.NewDashboardNotFoundError()
			}}
		},
	}
	h := NewDashboardHandler(svc, newMockSubscriber())

	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/api/dashboard/nope", nil), "token", "nope")
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if got := parseErrorBody(t, w); got.Code != model.ErrCodeDashboardNotFound {
		t.Errorf("code = %q", got.Code)
	}
}

func TestDashboardHandler_UpdateChecklist(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantCalled  bool
		wantChecked bool
	}{
		{name: "checked", body: `{"checked":true}`, wantStatus: http.StatusAccepted, wantCalled: true, wantChecked: true},
		{name: "unchecked", body: `{"checked":false}`, wantStatus: http.StatusAccepted, wantCalled: true},
		{name: "missing field", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "invalid json", body: `{"checked":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			var gotChecked bool
			svc := &mockDashboardService{
				updateChecklistFn: func(_ context.Context, token string, field model.ChecklistField, checked bool) error {
					called = true
					gotChecked = checked
					if token != "abc" || field != model.ChecklistGmail {
						t.Errorf("token=%q field=%q", token, field)
					}
					return nil
				},
			}
			h := NewDashboardHandler(svc, newMockSubscriber())

			req := httptest.NewRequest(http.MethodPut, "/api/dashboard/abc/checklist/gmail", bytes.NewBufferString(tt.body))
			req = withChiURLParams(req, "token", "abc", "field", string(model.ChecklistGmail))
			w := httptest.NewRecorder()

			h.UpdateChecklist(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("service called = %v, want %v", called, tt.wantCalled)
			}
			if called && gotChecked != tt.wantChecked {
				t.Errorf("checked = %v, want %v", gotChecked, tt.wantChecked)
			}
		})
	}
}

func TestDashboardHandler_Events_StreamsInitialAndReloadedDashboard(t *testing.T) {
	var loads atomic.Int32
	view := &mockView{loadFn: func(context.Context) (*dashboard.Dashboard, error) {
		switch loads.Add(1) {
		case 1:
			return sampleDashboard(), nil
		default:
			// 2回目の再読み込みでストリームを終わらせる
			return nil, model.NewDashboardNotFoundError()
		}
	}}
	var opened atomic.Int32
	svc := &mockDashboardService{
		openFn: func(string) DashboardView {
			opened.Add(1)
			return view
		},
	}
	subs := newMockSubscriber()
	h := NewDashboardHandler(svc, subs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/api/dashboard/abc/events", nil), "token", "abc")
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Events(w, req)
	}()

	var notify realtime.Handler
	select {
	case notify = <-subs.subscribed:
	case <-ctx.Done():
		t.Fatal("handler did not subscribe")
	}
	notify(realtime.Change{})

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("stream did not end after reload error")
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "event: dashboard\ndata: ") {
		t.Errorf("stream must start with the current dashboard, got %q", body)
	}
	if !strings.Contains(body, "event: error\n") || !strings.Contains(body, model.ErrCodeDashboardNotFound) {
		t.Errorf("stream must end with an error event, got %q", body)
	}
	if opened.Load() != 1 {
		t.Errorf("views opened = %d, want 1 per stream", opened.Load())
	}
}

func TestDashboardHandler_Events_UnknownTokenIsPlainError(t *testing.T) {
	svc := &mockDashboardService{
		openFn: func(string) DashboardView {
			return &mockView{loadFn: func(context.Context) (*dashboard.Dashboard, error) {
				return nil, model.NewDashboardNotFoundError()
			}}
		},
	}
	h := NewDashboardHandler(svc, newMockSubscriber())

	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/api/dashboard/x/events", nil), "token", "x")
	w := httptest.NewRecorder()

	h.Events(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		t.Error("stream must not start for an unknown token")
	}
}
