// Package auth はパスワード認証、セッション発行、パスワード再設定と、
// ブラウザクライアントごとの認証状態を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/repository"
)

// ErrSessionNotFound はリフレッシュトークンに対応するセッションが存在しないことを表す。
var ErrSessionNotFound = errors.New("session not found or expired")

// ResetMailer はパスワード再設定メールの送信インターフェース。
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	RefreshTokenTTL  time.Duration
	PasswordResetTTL time.Duration
	// BaseURL はパスワード再設定リンクの生成に使う。
	BaseURL string
}

// Service は認証に関するビジネスロジックを提供する。
// 全クライアントで共有されるサーバー側の状態のみを扱う。
type Service struct {
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	resets   repository.PasswordResetRepository
	tokens   *TokenIssuer
	mailer   ResetMailer
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	resets repository.PasswordResetRepository,
	tokens *TokenIssuer,
	mailer ResetMailer,
	config ServiceConfig,
) *Service {
	return &Service{
		accounts: accounts,
		sessions: sessions,
		resets:   resets,
		tokens:   tokens,
		mailer:   mailer,
		config:   config,
		now:      time.Now,
	}
}

// SignInWithPassword はメールアドレスとパスワードを検証し、セッションを発行する。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := CheckPassword(account.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Warn("sign-in rejected", slog.String("user_id", account.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	return s.issueSession(ctx, account.User)
}

// SignUp はアカウントを作成し、そのままセッションを発行する。
// metadataはプロフィール初回作成時に名前とロールの元データとして使われる。
func (s *Service) SignUp(ctx context.Context, email, password string, metadata model.UserMetadata) (*model.Session, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	account := &model.Account{
		User: model.User{
			ID:        uuid.New().String(),
			Email:     strings.TrimSpace(email),
			Metadata:  metadata,
			CreatedAt: now,
			UpdatedAt: now,
		},
		PasswordHash: hash,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("account created",
		slog.String("user_id", account.ID),
		slog.String("role", string(metadata.Role)),
	)

	return s.issueSession(ctx, account.User)
}

// Refresh はリフレッシュトークンを検証し、ローテーションした新しいセッションを返す。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	if refreshToken == "" {
		return nil, ErrSessionNotFound
	}

	stored, err := s.sessions.FindByTokenHash(ctx, hashToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if stored == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.accounts.FindByID(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrSessionNotFound
	}

	if err := s.sessions.DeleteByID(ctx, stored.ID); err != nil {
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}

	return s.issueSession(ctx, *user)
}

// SignOut はリフレッシュトークンに対応するセッションを破棄する。
// 既に存在しない場合も成功として扱う。
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	stored, err := s.sessions.FindByTokenHash(ctx, hashToken(refreshToken))
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if stored == nil {
		return nil
	}

	if err := s.sessions.DeleteByID(ctx, stored.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out", slog.String("user_id", stored.UserID))
	return nil
}

// ResetPasswordForEmail はパスワード再設定トークンを発行し、リンクをメール送信する。
// アカウントの存在有無は呼び出し元に漏らさない。
func (s *Service) ResetPasswordForEmail(ctx context.Context, email string) error {
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		slog.Info("password reset requested for unknown email")
		return nil
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}

	now := s.now()
	reset := &model.PasswordReset{
		ID:        uuid.New().String(),
		UserID:    account.ID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.config.PasswordResetTTL),
		CreatedAt: now,
	}
	if err := s.resets.Create(ctx, reset); err != nil {
		return fmt.Errorf("failed to save reset token: %w", err)
	}

	link := strings.TrimRight(s.config.BaseURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordReset(ctx, account.Email, link); err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}

	slog.Info("password reset email sent", slog.String("user_id", account.ID))
	return nil
}

// ExchangeRecovery は再設定トークンを消費し、パスワード変更用のセッションを発行する。
func (s *Service) ExchangeRecovery(ctx context.Context, token string) (*model.Session, error) {
	reset, err := s.resets.FindActiveByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("failed to find reset token: %w", err)
	}
	if reset == nil {
		return nil, model.NewInvalidResetTokenError()
	}

	user, err := s.accounts.FindByID(ctx, reset.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidResetTokenError()
	}

	if err := s.resets.MarkUsed(ctx, reset.ID, s.now()); err != nil {
		return nil, err
	}

	return s.issueSession(ctx, *user)
}

// UpdatePassword は認証済みユーザーのパスワードを変更する。
func (s *Service) UpdatePassword(ctx context.Context, userID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	slog.Info("password updated", slog.String("user_id", userID))
	return nil
}

// VerifyAccessToken はアクセストークンを検証してクレームを返す。
func (s *Service) VerifyAccessToken(token string) (*Claims, error) {
	return s.tokens.Parse(token)
}

// issueSession はリフレッシュセッションを永続化し、アクセストークンと組にして返す。
func (s *Service) issueSession(ctx context.Context, user model.User) (*model.Session, error) {
	refreshToken, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := s.now()
	stored := &model.RefreshSession{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: now.Add(s.config.RefreshTokenTTL),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	accessToken, expiresAt, err := s.tokens.Issue(user.ID, user.Email, stored.ID)
	if err != nil {
		return nil, err
	}

	return &model.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}
