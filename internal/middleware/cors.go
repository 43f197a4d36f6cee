package middleware

import (
	"net/http"
	"strings"
)

// corsAllowedHeaders はフロントエンドが送るリクエストヘッダー。
var corsAllowedHeaders = strings.Join([]string{"Content-Type", csrfHeaderName, TabIDHeader}, ", ")

// NewCORSMiddleware は指定オリジンに対するCORSミドルウェアを返す。
// 資格情報付きリクエストを許可するため、ワイルドカードは使わない。
// 空のオリジンではCORSヘッダーを付けない（同一オリジン配信）。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowedOrigin != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowedOrigin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
