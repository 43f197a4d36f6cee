package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/academy/internal/masquerade"
)

// TabIDHeader はフロントエンドがタブごとに生成してsessionStorageに保持するIDのヘッダー名。
const TabIDHeader = "X-Tab-ID"

const (
	tabStorageKey contextKey = "tab_storage"
	maxTabIDLen              = 64
)

// TabSource はタブIDに対応するストレージを返す。*masquerade.TabStoreが実装する。
type TabSource interface {
	Tab(tabID string) *masquerade.TabStorage
}

var _ TabSource = (*masquerade.TabStore)(nil)

// NewTabMiddleware はX-Tab-IDヘッダーからタブのストレージを解決してコンテキストに格納するミドルウェアを返す。
// ストレージはクライアントごとに分離されるため、他のブラウザのタブIDを指定しても読めない。
// ヘッダーがない、または不正な場合は何も格納しない。
func NewTabMiddleware(source TabSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tabID := r.Header.Get(TabIDHeader)
			if !validTabID(tabID) {
				next.ServeHTTP(w, r)
				return
			}
			key := ClientIDFromContext(r.Context()) + "/" + tabID
			ctx := context.WithValue(r.Context(), tabStorageKey, source.Tab(key))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validTabID(id string) bool {
	if id == "" || len(id) > maxTabIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// TabStorageFromContext はコンテキストからタブのストレージを取得する。
func TabStorageFromContext(ctx context.Context) (*masquerade.TabStorage, bool) {
	s, ok := ctx.Value(tabStorageKey).(*masquerade.TabStorage)
	return s, ok && s != nil
}

// ContextWithTabStorage はタブのストレージを格納したコンテキストを返す。テスト用。
func ContextWithTabStorage(ctx context.Context, s *masquerade.TabStorage) context.Context {
	return context.WithValue(ctx, tabStorageKey, s)
}
