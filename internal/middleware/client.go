package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/academy/internal/session"
)

const (
	// ClientCookieName はブラウザクライアントを識別するCookieの名前。
	ClientCookieName = "academy_client"
	// RefreshCookieName は永続化したリフレッシュトークンのCookieの名前。
	RefreshCookieName = "academy_refresh"
)

// contextKey はコンテキストに値を格納するためのキー型。
type contextKey string

const (
	clientIDKey    contextKey = "client_id"
	managerKey     contextKey = "session_manager"
	requestInfoKey contextKey = "request_info"
)

// requestInfo はアクセスログに載せる値を下流のミドルウェアから受け取る。
type requestInfo struct {
	clientID string
	userID   string
}

func contextWithRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

// ManagerSource はクライアントIDに対応するManagerを返す。*session.Registryが実装する。
type ManagerSource interface {
	Get(ctx context.Context, clientID, refreshToken string) *session.Manager
}

var _ ManagerSource = (*session.Registry)(nil)

// ClientConfig はクライアントミドルウェアの設定。
type ClientConfig struct {
	CookieSecure bool
	CookieDomain string
	// RefreshMaxAge はリフレッシュトークンCookieの有効期間。
	RefreshMaxAge time.Duration
}

// NewClientMiddleware はクライアントCookieからManagerを解決してコンテキストに格納するミドルウェアを返す。
// Cookieがなければ新しいクライアントIDを発行する。
// ハンドラーの処理でリフレッシュトークンが変わった場合は、応答の書き込み前にCookieを更新する。
func NewClientMiddleware(source ManagerSource, config ClientConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := readClientID(r)
			if clientID == "" {
				clientID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookieName,
					Value:    clientID,
					Path:     "/",
					Domain:   config.CookieDomain,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			var stored string
			if c, err := r.Cookie(RefreshCookieName); err == nil {
				stored = c.Value
			}

			// 初期化はリクエストの中断に巻き込まない
			m := source.Get(context.WithoutCancel(r.Context()), clientID, stored)

			ctx := context.WithValue(r.Context(), clientIDKey, clientID)
			ctx = context.WithValue(ctx, managerKey, m)

			cw := &cookieWriter{ResponseWriter: w, manager: m, stored: stored, config: config}
			next.ServeHTTP(cw, r.WithContext(ctx))
			cw.persist()

			if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
				info.clientID = clientID
				if u := m.Snapshot().User; u != nil {
					info.userID = u.ID
				}
			}
		})
	}
}

func readClientID(r *http.Request) string {
	c, err := r.Cookie(ClientCookieName)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return c.Value
}

// cookieWriter は最初の書き込みの直前にリフレッシュトークンCookieを同期する。
type cookieWriter struct {
	http.ResponseWriter
	manager *session.Manager
	stored  string
	config  ClientConfig
	once    sync.Once
}

func (cw *cookieWriter) persist() {
	cw.once.Do(func() {
		current := cw.manager.RefreshToken()
		if current == cw.stored {
			return
		}
		c := &http.Cookie{
			Name:     RefreshCookieName,
			Value:    current,
			Path:     "/",
			Domain:   cw.config.CookieDomain,
			HttpOnly: true,
			Secure:   cw.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(cw.config.RefreshMaxAge.Seconds()),
		}
		if current == "" {
			c.MaxAge = -1
		}
		http.SetCookie(cw.ResponseWriter, c)
	})
}

func (cw *cookieWriter) WriteHeader(code int) {
	cw.persist()
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *cookieWriter) Write(b []byte) (int, error) {
	cw.persist()
	return cw.ResponseWriter.Write(b)
}

// Flush はServer-Sent Eventsの逐次送信に使う。
func (cw *cookieWriter) Flush() {
	cw.persist()
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (cw *cookieWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}

// ManagerFromContext はコンテキストからクライアントのManagerを取得する。
func ManagerFromContext(ctx context.Context) (*session.Manager, bool) {
	m, ok := ctx.Value(managerKey).(*session.Manager)
	return m, ok && m != nil
}

// ClientIDFromContext はコンテキストからクライアントIDを取得する。
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

// ContextWithManager はManagerとクライアントIDを格納したコンテキストを返す。テスト用。
func ContextWithManager(ctx context.Context, clientID string, m *session.Manager) context.Context {
	ctx = context.WithValue(ctx, clientIDKey, clientID)
	return context.WithValue(ctx, managerKey, m)
}

// logClientError はクライアント単位の処理の失敗をログに残す。
func logClientError(ctx context.Context, msg string, err error) {
	slog.Warn(msg,
		slog.String("client_id", ClientIDFromContext(ctx)),
		slog.String("error", err.Error()),
	)
}
