package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/academy/internal/model"
)

func csrfHandler(config CSRFConfig, called *bool) http.Handler {
	return NewCSRFMiddleware(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRFMiddleware_SafeMethods_PassThroughWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			var called bool
			req := httptest.NewRequest(method, "/auth/me", nil)
			w := httptest.NewRecorder()
			csrfHandler(CSRFConfig{}, &called).ServeHTTP(w, req)

			if !called {
				t.Fatalf("handler should be called for %s", method)
			}
		})
	}
}

func TestCSRFMiddleware_GETRequest_SetsCSRFCookie(t *testing.T) {
	var called bool
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()
	csrfHandler(CSRFConfig{CookieSecure: true}, &called).ServeHTTP(w, req)

	var found *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			found = c
		}
	}
	if found == nil {
		t.Fatal("expected csrf_token cookie")
	}
	if len(found.Value) != 64 {
		t.Errorf("token length = %d, want 64", len(found.Value))
	}
	if found.HttpOnly {
		t.Error("csrf cookie must be readable by the front-end")
	}
	if !found.Secure {
		t.Error("csrf cookie should be Secure when configured")
	}
}

func TestCSRFMiddleware_StateChangingRequests(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		wantStatus int
	}{
		{"no cookie", http.MethodPost, "", "tok", http.StatusForbidden},
		{"no header", http.MethodPost, "tok", "", http.StatusForbidden},
		{"mismatch", http.MethodPut, "tok", "other", http.StatusForbidden},
		{"delete without token", http.MethodDelete, "", "", http.StatusForbidden},
		{"valid post", http.MethodPost, "tok", "tok", http.StatusOK},
		{"valid put", http.MethodPut, "tok", "tok", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			req := httptest.NewRequest(tt.method, "/auth/signin", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			w := httptest.NewRecorder()
			csrfHandler(CSRFConfig{}, &called).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode body: %v", err)
				}
				if body.Code != model.ErrCodeCSRF {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRF)
				}
			}
		})
	}
}

func TestCSRFMiddleware_ExemptPrefix(t *testing.T) {
	var called bool
	config := CSRFConfig{ExemptPrefixes: []string{"/functions/"}}
	req := httptest.NewRequest(http.MethodPost, "/functions/orientation-notification", nil)
	w := httptest.NewRecorder()
	csrfHandler(config, &called).ServeHTTP(w, req)

	if !called {
		t.Error("exempt path should pass without token")
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	t.Run("new token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil)
		w := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(w, req)

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		cookies := w.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Value != body["token"] {
			t.Errorf("cookie and body token differ: %v / %q", cookies, body["token"])
		}
	})

	t.Run("existing cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
		w := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(w, req)

		var body map[string]string
		json.NewDecoder(w.Body).Decode(&body)
		if body["token"] != "existing" {
			t.Errorf("token = %q, want existing", body["token"])
		}
		if len(w.Result().Cookies()) != 0 {
			t.Error("existing cookie must not be replaced")
		}
	})
}
