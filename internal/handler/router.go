package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/academy/internal/middleware"
	"github.com/hitoshi/academy/internal/model"
)

// BucketServer は公開バケットの配信。*storage.DiskBucketが実装する。
type BucketServer interface {
	Name() string
	Handler() http.Handler
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 共通
	Logger         *slog.Logger
	StatusObserver middleware.StatusObserver
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Bucket         BucketServer

	// ミドルウェア依存
	Managers          middleware.ManagerSource
	Tabs              middleware.TabSource
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	Client            middleware.ClientConfig
	CSRF              middleware.CSRFConfig
	// ReadyTimeout は認証状態の確定を待つ上限時間。
	ReadyTimeout time.Duration

	// ダッシュボード
	Dashboard DashboardService
	Changes   ChangeSubscriber

	// オリエンテーション
	Orientation OrientationService

	// 講師・見習い・管理者
	Apprentices ApprenticeService
	Reviews     ReviewService
	Masquerade  MasqueradeStarter

	// 通知関数
	Mailer         OrientationMailer
	Recipients     ApprenticeFinder
	FunctionSecret string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Client → Tab → RateLimit(General) → CSRF → RequireRole
//
// /health・/metrics・/storage はクライアント状態を持たない。
// /functions/* はサーバー間呼び出しのため、クライアントとCSRFの対象外にする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.ReadyTimeout)
	dashboardHandler := NewDashboardHandler(deps.Dashboard, deps.Changes)
	orientationHandler := NewOrientationHandler(deps.Orientation)
	professorHandler := NewProfessorHandler(deps.Apprentices, deps.Reviews, deps.Dashboard)
	apprenticeHandler := NewApprenticeHandler(deps.Apprentices)
	adminHandler := NewAdminHandler(deps.Apprentices, deps.Masquerade)
	masqueradeHandler := NewMasqueradeHandler()
	functionHandler := NewFunctionHandler(deps.Mailer, deps.Recipients, deps.FunctionSecret)

	// --- 状態を持たないルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.Bucket != nil {
		prefix := "/storage/" + url.PathEscape(deps.Bucket.Name())
		r.Mount(prefix, http.StripPrefix(prefix, deps.Bucket.Handler()))
	}

	// --- サーバー間呼び出し ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Post("/functions/orientation-notification", functionHandler.OrientationNotification)
	})

	// --- クライアントのルート ---
	// ミドルウェアスタック: Client → Tab → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClientMiddleware(deps.Managers, deps.Client))
		r.Use(middleware.NewTabMiddleware(deps.Tabs))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Route("/auth", func(r chi.Router) {
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

			// 総当たり対策としてIP単位の制限を追加
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.SignInMiddleware())
				r.Post("/signin", authHandler.SignIn)
				r.Post("/signup", authHandler.SignUp)
				r.Post("/reset-password", authHandler.ResetPassword)
				r.Post("/recover", authHandler.Recover)
			})

			r.Post("/signout", authHandler.SignOut)
			r.Put("/password", authHandler.UpdatePassword)
			r.Post("/profile/refresh", authHandler.RefreshProfile)
			r.Post("/visibility", authHandler.Visibility)
			r.Get("/me", authHandler.Me)
		})

		// ダッシュボード（トークンで開くためログイン不要）
		r.Route("/api/dashboard/{token}", func(r chi.Router) {
			r.Get("/", dashboardHandler.Get)
			r.Get("/events", dashboardHandler.Events)
			r.Put("/checklist/{field}", dashboardHandler.UpdateChecklist)
		})

		// オリエンテーション（ディープリンクで開くためログイン不要）
		r.Route("/api/orientation", func(r chi.Router) {
			r.Get("/", orientationHandler.Context)
			r.Post("/submit", orientationHandler.Submit)
		})

		// タブ単位のなりすまし状態
		r.Route("/api/masquerade", func(r chi.Router) {
			r.Get("/", masqueradeHandler.State)
			r.Post("/adopt", masqueradeHandler.Adopt)
			r.Post("/end", masqueradeHandler.End)
		})

		r.Route("/api/professor", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleProfessor, deps.ReadyTimeout))
			r.Get("/apprentices", professorHandler.ListApprentices)
			r.Post("/apprentices", professorHandler.AddApprentice)
			r.Post("/apprentices/{token}/phase2", professorHandler.UnlockPhase2)
			r.Get("/submissions", professorHandler.ListSubmissions)
			r.Post("/submissions/{id}/review", professorHandler.ReviewSubmission)
		})

		r.Route("/api/apprentice", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleApprentice, deps.ReadyTimeout))
			r.Get("/me", apprenticeHandler.Me)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin, deps.ReadyTimeout))
			r.Get("/professors", adminHandler.ListProfessors)
			r.Get("/apprentices", adminHandler.ListApprentices)
			r.Post("/masquerade", adminHandler.Masquerade)
		})
	})

	return r
}
