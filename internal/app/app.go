package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/academy/internal/apprentice"
	"github.com/hitoshi/academy/internal/auth"
	"github.com/hitoshi/academy/internal/config"
	"github.com/hitoshi/academy/internal/curriculum"
	"github.com/hitoshi/academy/internal/dashboard"
	"github.com/hitoshi/academy/internal/database"
	"github.com/hitoshi/academy/internal/handler"
	"github.com/hitoshi/academy/internal/logger"
	"github.com/hitoshi/academy/internal/masquerade"
	"github.com/hitoshi/academy/internal/metrics"
	"github.com/hitoshi/academy/internal/middleware"
	"github.com/hitoshi/academy/internal/notify"
	"github.com/hitoshi/academy/internal/orientation"
	"github.com/hitoshi/academy/internal/profile"
	"github.com/hitoshi/academy/internal/realtime"
	"github.com/hitoshi/academy/internal/repository"
	"github.com/hitoshi/academy/internal/review"
	"github.com/hitoshi/academy/internal/security"
	"github.com/hitoshi/academy/internal/session"
	"github.com/hitoshi/academy/internal/storage"
	"github.com/hitoshi/academy/internal/worker/cleanup"
)

const (
	appName = "Professor Academy"
	// screenshotBucket はオリエンテーションのスクリーンショットを保存する公開バケット。
	screenshotBucket = "submissions"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		Usage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// server はAPIサーバーを構成する部品をまとめたもの。
type server struct {
	router   http.Handler
	hub      *realtime.Hub
	registry *session.Registry
	tabs     *masquerade.TabStore
	limiter  *middleware.RateLimiter
	notifier *notify.Client
	board    *dashboard.Assembler
}

// close はバックグラウンド処理を止め、実行中の非同期書き込みと通知の完了を待つ。
func (s *server) close() {
	s.limiter.Stop()
	s.tabs.Stop()
	s.registry.Stop()
	s.board.Wait()
	s.notifier.Wait()
}

// newServer は全依存関係をワイヤリングしてルーターを構築する。DBへの接続は行わない。
func newServer(cfg *config.Config, db *sql.DB, log *slog.Logger) (*server, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	resetRepo := repository.NewPostgresPasswordResetRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	apprenticeRepo := repository.NewPostgresApprenticeRepo(db)
	progressRepo := repository.NewPostgresProgressRepo(db)
	submissionRepo := repository.NewPostgresSubmissionRepo(db)

	// 3. メールと通知
	mailer := notify.NewMailer(cfg.SendGridAPIKey, appName, cfg.MailFrom, log)
	emails := notify.NewEmails(mailer, cfg.BaseURL)
	httpClient, err := notifyHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewClient(cfg.NotifyEndpointURL, httpClient, cfg.RemoteCallTimeout, collector, log).
		WithSecret(cfg.FunctionSecret)

	// 4. 認証とクライアントごとのセッション状態
	authService := auth.NewService(
		accountRepo, sessionRepo, resetRepo,
		auth.NewTokenIssuer(cfg.SessionSecret, cfg.AccessTokenTTL),
		emails,
		auth.ServiceConfig{
			RefreshTokenTTL:  cfg.RefreshTokenTTL,
			PasswordResetTTL: cfg.PasswordResetTTL,
			BaseURL:          cfg.BaseURL,
		},
	)
	managers := session.NewRegistry(func(clientID, refreshToken string) *session.Manager {
		clientLog := log.With(slog.String("client_id", clientID))
		profiles := profile.NewCoordinator(profileRepo, collector, clientLog, profile.Config{
			StaleAfter: cfg.ProfileStaleAfter,
			Timeout:    cfg.ProfileFetchTimeout,
		})
		return session.NewManager(auth.NewClient(authService, refreshToken), profiles, session.Options{
			Metrics:     collector,
			Logger:      clientLog,
			CallTimeout: cfg.RemoteCallTimeout,
		})
	}, session.RegistryConfig{IdleTimeout: cfg.ClientIdleTimeout})
	tabs := masquerade.NewTabStore(cfg.ClientIdleTimeout, 5*time.Minute)

	// 5. ドメインサービスの初期化
	bucket, err := storage.NewDiskBucket(cfg.StorageDir, screenshotBucket, cfg.BaseURL, cfg.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare storage: %w", err)
	}
	board := dashboard.NewAssembler(apprenticeRepo, progressRepo, submissionRepo, curriculum.Default(), collector, log)
	hub := realtime.NewHub(log)
	apprentices := apprentice.NewService(apprenticeRepo, profileRepo, log)
	reviews := review.NewService(submissionRepo, security.NewSanitizer(), log)
	orientations := orientation.NewService(apprenticeRepo, submissionRepo, bucket, notifier, log)
	masquerades := masquerade.NewService(handler.NewMasqueradeTargetAdapter(apprenticeRepo, profileRepo), cfg.MasqueradeAllowlist)

	// 6. ルーターの構築
	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitGeneral, cfg.RateLimitSignIn))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         log,
		StatusObserver: collector,
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
		Bucket:         bucket,

		Managers:          managers,
		Tabs:              tabs,
		RateLimiter:       limiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Client: middleware.ClientConfig{
			CookieSecure:  cfg.CookieSecure,
			CookieDomain:  cfg.CookieDomain,
			RefreshMaxAge: cfg.RefreshTokenTTL,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			ExemptPrefixes: []string{"/functions/"},
		},
		ReadyTimeout: cfg.RemoteCallTimeout,

		Dashboard: handler.NewDashboardServiceAdapter(board),
		Changes:   hub,

		Orientation: orientations,

		Apprentices: apprentices,
		Reviews:     reviews,
		Masquerade:  masquerades,

		Mailer:         emails,
		Recipients:     apprenticeRepo,
		FunctionSecret: cfg.FunctionSecret,
	})

	return &server{
		router:   router,
		hub:      hub,
		registry: managers,
		tabs:     tabs,
		limiter:  limiter,
		notifier: notifier,
		board:    board,
	}, nil
}

// notifyHTTPClient は通知送信用のHTTPクライアントを返す。
// 自サーバーの関数エンドポイント宛てなら通常のクライアントを、外部宛てならSSRF対策済みのクライアントを使う。
func notifyHTTPClient(cfg *config.Config) (*http.Client, error) {
	endpoint := cfg.NotifyEndpointURL
	if endpoint == "" || strings.HasPrefix(endpoint, strings.TrimRight(cfg.BaseURL, "/")+"/") {
		return &http.Client{Timeout: cfg.RemoteCallTimeout}, nil
	}
	if err := security.ValidateEndpoint(endpoint); err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_ENDPOINT_URL: %w", err)
	}
	return security.NewOutboundClient(cfg.RemoteCallTimeout), nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	srv, err := newServer(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer srv.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ダッシュボードの変更通知を購読する
	go func() {
		if err := srv.hub.Listen(ctx, cfg.DatabaseURL); err != nil {
			slog.Error("realtime listener stopped", slog.String("error", err.Error()))
		}
	}()

	// SSEの配信があるため WriteTimeout は設定しない
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れのセッションとパスワード再設定トークンを定期的に削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(db, slog.Default())
	job.RetentionDays = cfg.ResetRetentionDays

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", job.RetentionDays),
	)

	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
