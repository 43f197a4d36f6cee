package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/academy/internal/guard"
	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/session"
)

const snapshotKey contextKey = "session_snapshot"

// DefaultReadyTimeout は認証状態の確定を待つ上限時間の既定値。
const DefaultReadyTimeout = 10 * time.Second

// RequireRole は指定ロールを要求するミドルウェアを返す。
// 認証状態とプロフィールが確定するまで待ってから判定する。確定しないうちはリダイレクトせず503を返す。
func RequireRole(role model.Role, readyTimeout time.Duration) func(next http.Handler) http.Handler {
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m, ok := ManagerFromContext(r.Context())
			if !ok {
				WriteRedirectError(w, http.StatusUnauthorized, model.NewUnauthenticatedError(), guard.LoginPath)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			snap, err := m.WaitReady(ctx)
			cancel()
			if err != nil {
				logClientError(r.Context(), "session not ready", err)
			}

			switch guard.Evaluate(role, snap) {
			case guard.Allow:
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), snapshotKey, snap)))
			case guard.RedirectLogin:
				WriteRedirectError(w, http.StatusUnauthorized, model.NewUnauthenticatedError(), guard.LoginPath)
			case guard.RedirectUnauthorized:
				WriteRedirectError(w, http.StatusForbidden, model.NewForbiddenError(), guard.UnauthorizedPath)
			default:
				w.Header().Set("Retry-After", "1")
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewSessionLoadingError())
			}
		})
	}
}

// SnapshotFromContext はRequireRoleが判定に使った認証状態を取得する。
func SnapshotFromContext(ctx context.Context) (session.Snapshot, bool) {
	s, ok := ctx.Value(snapshotKey).(session.Snapshot)
	return s, ok
}

// ProfileFromContext は判定済みのプロフィールを取得する。
func ProfileFromContext(ctx context.Context) (*model.Profile, bool) {
	s, ok := SnapshotFromContext(ctx)
	if !ok || s.Profile == nil {
		return nil, false
	}
	return s.Profile, true
}

// ContextWithSnapshot は認証状態を格納したコンテキストを返す。テスト用。
func ContextWithSnapshot(ctx context.Context, s session.Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey, s)
}
