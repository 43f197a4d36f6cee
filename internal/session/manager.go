// Package session はブラウザクライアントごとの認証状態マシンを提供する。
// 認証イベントを購読し、セッション・ユーザー・プロフィールを一貫した状態として公開する。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/academy/internal/auth"
	"github.com/hitoshi/academy/internal/metrics"
	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/profile"
	"github.com/hitoshi/academy/internal/validate"
)

// AuthClient はManagerが利用するクライアント側認証操作。*auth.Clientが実装する。
type AuthClient interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(l auth.Listener) func()
	Session() *model.Session
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string, metadata model.UserMetadata) (*model.Session, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	ExchangeRecovery(ctx context.Context, token string) (*model.Session, error)
	UpdateUser(ctx context.Context, password string) error
	Resume(ctx context.Context) error
}

var _ AuthClient = (*auth.Client)(nil)

// State は認証状態マシンの状態。
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// Snapshot はある時点の認証状態。
type Snapshot struct {
	State   State
	Session *model.Session
	User    *model.User
	Profile *model.Profile
	Loading bool
	// ProfilePending はプロフィール取得が実行中であることを示す。
	// 認証済みでProfileがnilの間、ロール判定は保留すべき状態。
	ProfilePending bool
}

// Settled はロール判定に必要な情報が揃っているかを返す。
func (s Snapshot) Settled() bool {
	if s.State == StateUninitialized || s.Loading {
		return false
	}
	return !(s.User != nil && s.Profile == nil && s.ProfilePending)
}

// Options はManagerの任意設定。
type Options struct {
	Metrics metrics.MetricsCollector
	Logger  *slog.Logger
	// CallTimeout は各操作のリモート呼び出し上限時間。
	CallTimeout time.Duration
}

// Manager はクライアント1つ分の認証状態を管理する。
// Startで一度だけ初期化し、Closeで購読を解除する。
type Manager struct {
	client   AuthClient
	profiles *profile.Coordinator
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	timeout  time.Duration

	startOnce sync.Once
	startErr  error

	mu          sync.Mutex
	started     bool
	closed      bool
	loading     bool
	session     *model.Session
	user        *model.User
	unsubscribe func()
	changed     chan struct{}
	background  sync.WaitGroup
}

// NewManager はManagerを生成する。
func NewManager(client AuthClient, profiles *profile.Coordinator, opts Options) *Manager {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	return &Manager{
		client:   client,
		profiles: profiles,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		timeout:  opts.CallTimeout,
		changed:  make(chan struct{}),
	}
}

// Start は認証イベントを購読し、既存セッションを復元する。2回目以降の呼び出しは何もしない。
// セッション取得の成否に関わらずloadingは必ず解除される。
func (m *Manager) Start(ctx context.Context) error {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		m.loading = true
		m.mu.Unlock()

		unsubscribe := m.client.OnAuthStateChange(m.handleEvent)
		m.mu.Lock()
		m.unsubscribe = unsubscribe
		m.mu.Unlock()

		defer m.setLoading(false)

		ctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		s, err := m.client.GetSession(ctx)
		if err != nil {
			m.logger.Error("failed to restore session", slog.String("error", err.Error()))
			m.startErr = err
			return
		}
		m.setSession(s)
		if s != nil {
			m.fetchProfile(ctx, s.User, false)
		}
	})
	return m.startErr
}

// Close は認証イベントの購読を解除する。以降に届いたコールバックは無視される。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	m.notifyLocked()
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Snapshot は現在の状態を返す。
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		Loading: m.loading,
		Session: m.session,
		User:    m.user,
	}
	started := m.started
	m.mu.Unlock()

	if snap.User != nil {
		if p := m.profiles.Cached(); p != nil && p.ID == snap.User.ID {
			snap.Profile = p
		}
		snap.ProfilePending = m.profiles.InFlight()
	}

	switch {
	case !started:
		snap.State = StateUninitialized
	case snap.Loading:
		snap.State = StateLoading
	case snap.User == nil:
		snap.State = StateUnauthenticated
	default:
		snap.State = StateAuthenticated
	}
	return snap
}

// WaitReady はloadingが解除され、実行中のプロフィール取得がなくなるまで待つ。
func (m *Manager) WaitReady(ctx context.Context) (Snapshot, error) {
	for {
		m.mu.Lock()
		ch := m.changed
		closed := m.closed
		m.mu.Unlock()

		snap := m.Snapshot()
		if snap.Settled() || closed {
			return snap, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// RefreshToken は永続化用に現在のリフレッシュトークンを返す。
func (m *Manager) RefreshToken() string {
	if s := m.client.Session(); s != nil {
		return s.RefreshToken
	}
	return ""
}

// handleEvent は認証イベントごとの状態遷移を行う。
func (m *Manager) handleEvent(event model.AuthEvent, s *model.Session) {
	m.metrics.RecordAuthEvent(string(event))

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	switch event {
	case model.AuthEventSignedOut:
		m.profiles.Invalidate()
		m.mu.Lock()
		m.session = nil
		m.user = nil
		m.loading = false
		m.notifyLocked()
		m.mu.Unlock()

	case model.AuthEventSignedIn:
		m.setSession(s)
		if s == nil || m.hasProfileFor(s.User.ID) {
			return
		}
		m.setLoading(true)
		defer m.setLoading(false)
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		m.fetchProfile(ctx, s.User, false)

	case model.AuthEventTokenRefreshed, model.AuthEventInitialSession,
		model.AuthEventUserUpdated, model.AuthEventPasswordRecovery:
		m.setSession(s)
		if s != nil && !m.hasProfileFor(s.User.ID) {
			m.fetchProfileAsync(s.User)
		}
	}
}

// SignIn はキャッシュを破棄してからパスワードでサインインする。
// プロフィールはSIGNED_INイベントの処理で取得される。
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	if err := validate.Struct(validate.Credentials{Email: email, Password: password}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.profiles.Invalidate()
	_, err := m.client.SignInWithPassword(ctx, email, password)
	m.metrics.RecordSignIn(err == nil)
	return err
}

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	Email    string
	Password string
	Name     string
	Role     model.Role
}

// SignUp は入力を検証してからアカウントを作成する。
func (m *Manager) SignUp(ctx context.Context, in SignUpInput) error {
	if err := validate.Struct(validate.Signup{
		Email: in.Email, Password: in.Password, Name: in.Name, Role: string(in.Role),
	}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.client.SignUp(ctx, in.Email, in.Password, model.UserMetadata{Name: in.Name, Role: in.Role})
	return err
}

// SignOut はキャッシュを破棄してからサインアウトする。
func (m *Manager) SignOut(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.profiles.Invalidate()
	return m.client.SignOut(ctx)
}

// ResetPassword はパスワード再設定メールを要求する。
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	if err := validate.Struct(validate.Email{Email: email}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.client.ResetPasswordForEmail(ctx, email)
}

// Recover は再設定リンクのトークンでサインインする。
func (m *Manager) Recover(ctx context.Context, token string) error {
	if token == "" {
		return model.NewInvalidResetTokenError()
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.client.ExchangeRecovery(ctx, token)
	return err
}

// UpdatePassword は入力を検証してからパスワードを変更する。
func (m *Manager) UpdatePassword(ctx context.Context, password string) error {
	if err := validate.Struct(validate.NewPassword{Password: password}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.client.UpdateUser(ctx, password)
}

// RefreshProfile はプロフィールを強制再取得する。
func (m *Manager) RefreshProfile(ctx context.Context) (*model.Profile, error) {
	m.mu.Lock()
	user := m.user
	m.mu.Unlock()
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}
	return m.fetchProfile(ctx, *user, true)
}

// Resume はタブの再表示を通知する。
func (m *Manager) Resume(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.client.Resume(ctx)
}

// fetchProfile はプロフィールを取得し、完了を待機者に通知する。失敗はログに残して握りつぶす。
func (m *Manager) fetchProfile(ctx context.Context, user model.User, force bool) (*model.Profile, error) {
	defer m.notify()
	p, err := m.profiles.Fetch(ctx, identityOf(user), force)
	if err != nil {
		m.logger.Warn("profile unavailable",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return p, err
}

// fetchProfileAsync はUIをブロックせずにプロフィールを取得する。
// 世代はイベント受信時点で固定するため、その後のサインイン・サインアウトを追い越さない。
func (m *Manager) fetchProfileAsync(user model.User) {
	gen := m.profiles.Generation()
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		defer m.notify()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if _, err := m.profiles.FetchAt(ctx, identityOf(user), false, gen); err != nil {
			m.logger.Warn("profile unavailable",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func identityOf(user model.User) profile.Identity {
	return profile.Identity{UserID: user.ID, Email: user.Email, Metadata: user.Metadata}
}

func (m *Manager) hasProfileFor(userID string) bool {
	p := m.profiles.Cached()
	return p != nil && p.ID == userID
}

func (m *Manager) setSession(s *model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.session = s
	if s != nil {
		u := s.User
		m.user = &u
	} else {
		m.user = nil
	}
	m.notifyLocked()
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.loading = v
	m.notifyLocked()
}

func (m *Manager) notify() {
	m.mu.Lock()
	m.notifyLocked()
	m.mu.Unlock()
}

// notifyLocked は状態変化を待機者に知らせる。m.muを保持して呼ぶこと。
func (m *Manager) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}
