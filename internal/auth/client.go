package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/academy/internal/model"
)

// Backend はClientが利用するサーバー側認証操作。*Serviceが実装する。
type Backend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string, metadata model.UserMetadata) (*model.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*model.Session, error)
	SignOut(ctx context.Context, refreshToken string) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	ExchangeRecovery(ctx context.Context, token string) (*model.Session, error)
	UpdatePassword(ctx context.Context, userID, password string) error
}

var _ Backend = (*Service)(nil)

// Listener は認証状態変化の通知を受け取る。sessionはサインアウト時nil。
type Listener func(event model.AuthEvent, session *model.Session)

// refreshLeeway はResumeでトークンを先回りして更新する残り時間。
const refreshLeeway = 5 * time.Minute

// Client はブラウザクライアント1つ分の認証状態を保持する。
// 現在のセッションを持ち、状態が変わるたびに購読者へイベントを通知する。
type Client struct {
	backend Backend
	now     func() time.Time

	mu          sync.Mutex
	session     *model.Session
	restoreFrom string
	initialized bool
	listeners   map[int]Listener
	nextID      int
}

// NewClient はClientを生成する。refreshTokenは永続化されていたリフレッシュトークンで、
// 最初のGetSessionでセッション復元に使われる。
func NewClient(backend Backend, refreshToken string) *Client {
	return &Client{
		backend:     backend,
		now:         time.Now,
		restoreFrom: refreshToken,
		listeners:   make(map[int]Listener),
	}
}

// OnAuthStateChange はリスナーを登録し、登録解除関数を返す。
func (c *Client) OnAuthStateChange(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Session は現在保持しているセッションを返す。未ログインならnil。
func (c *Client) Session() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copySession(c.session)
}

// GetSession は現在のセッションを返す。
// 初回呼び出しでは永続化されたリフレッシュトークンから復元し INITIAL_SESSION を通知する。
// 以降はアクセストークンが期限切れなら更新して TOKEN_REFRESHED を通知する。
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	if !c.initialized {
		c.initialized = true
		token := c.restoreFrom
		c.restoreFrom = ""
		c.mu.Unlock()
		return c.restore(ctx, token)
	}
	current := copySession(c.session)
	c.mu.Unlock()

	if current == nil || !current.Expired(c.now()) {
		return current, nil
	}
	return c.refresh(ctx, current.RefreshToken)
}

func (c *Client) restore(ctx context.Context, token string) (*model.Session, error) {
	var restored *model.Session
	if token != "" {
		s, err := c.backend.Refresh(ctx, token)
		switch {
		case errors.Is(err, ErrSessionNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to restore session: %w", err)
		default:
			restored = s
		}
	}

	c.setSession(restored)
	c.emit(model.AuthEventInitialSession, restored)
	return copySession(restored), nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	s, err := c.backend.Refresh(ctx, refreshToken)
	if errors.Is(err, ErrSessionNotFound) {
		c.setSession(nil)
		c.emit(model.AuthEventSignedOut, nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	c.setSession(s)
	c.emit(model.AuthEventTokenRefreshed, s)
	return copySession(s), nil
}

// SignInWithPassword はパスワードでサインインし SIGNED_IN を通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	s, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.markInitialized()
	c.setSession(s)
	c.emit(model.AuthEventSignedIn, s)
	return copySession(s), nil
}

// SignUp はアカウントを作成してサインインし SIGNED_IN を通知する。
func (c *Client) SignUp(ctx context.Context, email, password string, metadata model.UserMetadata) (*model.Session, error) {
	s, err := c.backend.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, err
	}
	c.markInitialized()
	c.setSession(s)
	c.emit(model.AuthEventSignedIn, s)
	return copySession(s), nil
}

// SignOut はサーバー側セッションを破棄し SIGNED_OUT を通知する。
// サーバー側の破棄に失敗してもローカルのセッションは消去する。
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	var token string
	if c.session != nil {
		token = c.session.RefreshToken
	}
	c.session = nil
	c.initialized = true
	c.restoreFrom = ""
	c.mu.Unlock()

	err := c.backend.SignOut(ctx, token)
	c.emit(model.AuthEventSignedOut, nil)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// ResetPasswordForEmail はパスワード再設定メールを要求する。
func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) error {
	return c.backend.ResetPasswordForEmail(ctx, email)
}

// ExchangeRecovery は再設定リンクのトークンでサインインし PASSWORD_RECOVERY を通知する。
func (c *Client) ExchangeRecovery(ctx context.Context, token string) (*model.Session, error) {
	s, err := c.backend.ExchangeRecovery(ctx, token)
	if err != nil {
		return nil, err
	}
	c.markInitialized()
	c.setSession(s)
	c.emit(model.AuthEventPasswordRecovery, s)
	return copySession(s), nil
}

// UpdateUser は現在のユーザーのパスワードを変更し USER_UPDATED を通知する。
func (c *Client) UpdateUser(ctx context.Context, password string) error {
	current := c.Session()
	if current == nil {
		return model.NewUnauthenticatedError()
	}
	if err := c.backend.UpdatePassword(ctx, current.User.ID, password); err != nil {
		return err
	}
	c.emit(model.AuthEventUserUpdated, current)
	return nil
}

// Resume はタブの再表示時に呼ばれる。期限が近ければトークンを更新して TOKEN_REFRESHED、
// そうでなければ SIGNED_IN を再通知する。
func (c *Client) Resume(ctx context.Context) error {
	current := c.Session()
	if current == nil {
		return nil
	}
	if current.ExpiresAt.Sub(c.now()) < refreshLeeway {
		_, err := c.refresh(ctx, current.RefreshToken)
		return err
	}
	c.emit(model.AuthEventSignedIn, current)
	return nil
}

func (c *Client) setSession(s *model.Session) {
	c.mu.Lock()
	c.session = copySession(s)
	c.mu.Unlock()
}

func (c *Client) markInitialized() {
	c.mu.Lock()
	c.initialized = true
	c.restoreFrom = ""
	c.mu.Unlock()
}

// emit はロックを保持せずにリスナーを呼び出す。
func (c *Client) emit(event model.AuthEvent, s *model.Session) {
	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	slog.Debug("auth state changed", slog.String("event", string(event)))
	for _, l := range listeners {
		l(event, copySession(s))
	}
}

func copySession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
