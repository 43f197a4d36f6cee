package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		SignInRate:      0.5,
		SignInBurst:     1,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func clientRequest(clientID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/apprentice/me", nil)
	return req.WithContext(ContextWithManager(req.Context(), clientID, nil))
}

func TestGeneralMiddleware_LimitsPerClient(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, clientRequest("client-a"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, clientRequest("client-a"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMITED" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}

	// 別クライアントは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, clientRequest("client-b"))
	if w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Code)
	}
	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("limiter count = %d, want 2", got)
	}
}

func TestSignInMiddleware_LimitsPerIPAcrossClients(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	handler := rl.SignInMiddleware()(okHandler())

	first := clientRequest("client-a")
	first.RemoteAddr = "203.0.113.7:5000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, first)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	second := clientRequest("client-b")
	second.RemoteAddr = "203.0.113.7:5001"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, second)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 for the same IP", w.Code)
	}
	if w.Header().Get("Retry-After") != "2" {
		t.Errorf("Retry-After = %q, want 2", w.Header().Get("Retry-After"))
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), clientRequest("client-a"))
	rl.SignInMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), clientRequest("client-a"))

	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 || rl.SignInLimiterCount() != 1 {
		t.Fatal("recent entries must survive cleanup")
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.SignInLimiterCount() != 0 {
		t.Errorf("counts = %d/%d, want 0/0", rl.GeneralLimiterCount(), rl.SignInLimiterCount())
	}
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(120, 10)
	if cfg.GeneralRate != 2 || cfg.GeneralBurst != 120 || cfg.SignInBurst != 10 {
		t.Errorf("config = %+v", cfg)
	}
	if DefaultRateLimiterConfig() != cfg {
		t.Error("default config should be 120/10 per minute")
	}
}
