package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	SessionSecret    string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	PasswordResetTTL time.Duration

	// Profile cache
	ProfileStaleAfter   time.Duration
	ProfileFetchTimeout time.Duration

	// RemoteCallTimeout はプロフィール取得以外のリモート呼び出しの上限時間。
	RemoteCallTimeout time.Duration

	// ClientIdleTimeout を超えて利用のないクライアント状態は破棄される。
	ClientIdleTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitSignIn  int

	// Mail / Notification
	SendGridAPIKey    string
	MailFrom          string
	NotifyEndpointURL string
	// FunctionSecret が設定されていれば /functions/ 配下はBearerトークンを要求する。
	FunctionSecret string

	// Storage
	StorageDir     string
	MaxUploadBytes int64

	// Masquerade
	MasqueradeAllowlist []string

	// Cleanup
	ResetRetentionDays int
	CleanupInterval    time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込むが、既存の環境変数が優先される。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", time.Hour)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 720*time.Hour)
	cfg.PasswordResetTTL = getEnvDuration("PASSWORD_RESET_TTL", time.Hour)
	cfg.ProfileStaleAfter = getEnvDuration("PROFILE_STALE_AFTER", time.Hour)
	cfg.ProfileFetchTimeout = getEnvDuration("PROFILE_FETCH_TIMEOUT", 10*time.Second)
	cfg.RemoteCallTimeout = getEnvDuration("REMOTE_CALL_TIMEOUT", 15*time.Second)
	cfg.ClientIdleTimeout = getEnvDuration("CLIENT_IDLE_TIMEOUT", 2*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSignIn = getEnvInt("RATE_LIMIT_SIGNIN", 10)
	cfg.SendGridAPIKey = getEnvString("SENDGRID_API_KEY", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@professor-academy.local")
	cfg.NotifyEndpointURL = getEnvString("NOTIFY_ENDPOINT_URL", "")
	cfg.FunctionSecret = getEnvString("FUNCTION_SECRET", "")
	cfg.StorageDir = getEnvString("STORAGE_DIR", "./storage")
	cfg.MasqueradeAllowlist = getEnvList("MASQUERADE_ALLOWLIST")
	cfg.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20))
	cfg.ResetRetentionDays = getEnvInt("RESET_RETENTION_DAYS", 7)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	// 実際にメールを送る構成では通知関数を匿名で呼べないようにする
	if cfg.SendGridAPIKey != "" && cfg.FunctionSecret == "" {
		return nil, fmt.Errorf("FUNCTION_SECRET is required when SENDGRID_API_KEY is set")
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を小文字化・空要素除去して返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
