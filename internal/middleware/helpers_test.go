package middleware

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/academy/internal/auth"
	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/profile"
	"github.com/hitoshi/academy/internal/session"
)

// --- モック定義 ---

// fakeBackend は"refresh-<id>"形式のトークンを受け付ける認証バックエンド。
type fakeBackend struct {
	rotate bool
}

func (f *fakeBackend) SignInWithPassword(_ context.Context, email, _ string) (*model.Session, error) {
	return testSession("u1", email, "refresh-u1"), nil
}

func (f *fakeBackend) SignUp(_ context.Context, email, _ string, _ model.UserMetadata) (*model.Session, error) {
	return testSession("u2", email, "refresh-u2"), nil
}

func (f *fakeBackend) Refresh(_ context.Context, token string) (*model.Session, error) {
	rest, ok := strings.CutPrefix(token, "refresh-")
	if !ok || rest == "" {
		return nil, auth.ErrSessionNotFound
	}
	id, _, _ := strings.Cut(rest, "-")
	next := token
	if f.rotate {
		next = "refresh-" + id + "-next"
	}
	return testSession(id, id+"@example.com", next), nil
}

func (f *fakeBackend) SignOut(context.Context, string) error {
	return nil
}

func (f *fakeBackend) ResetPasswordForEmail(context.Context, string) error {
	return nil
}

func (f *fakeBackend) ExchangeRecovery(context.Context, string) (*model.Session, error) {
	return nil, model.NewInvalidResetTokenError()
}

func (f *fakeBackend) UpdatePassword(context.Context, string, string) error {
	return nil
}

func testSession(userID, email, refresh string) *model.Session {
	return &model.Session{
		AccessToken:  "access-" + userID,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         model.User{ID: userID, Email: email},
	}
}

// roleStore はユーザーIDごとのロールでプロフィールを返す。
type roleStore struct {
	roles   map[string]model.Role
	blockCh chan struct{}
}

func (s *roleStore) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	if s.blockCh != nil {
		select {
		case <-s.blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	role, ok := s.roles[id]
	if !ok {
		return nil, nil
	}
	return &model.Profile{ID: id, Email: id + "@example.com", Name: "User " + id, Role: role}, nil
}

func (s *roleStore) Insert(_ context.Context, p *model.Profile) (*model.Profile, error) {
	return p, nil
}

// stubSource は固定のManagerを返すManagerSource。
type stubSource struct {
	manager   *session.Manager
	gotClient string
	gotToken  string
}

func (s *stubSource) Get(_ context.Context, clientID, refreshToken string) *session.Manager {
	s.gotClient = clientID
	s.gotToken = refreshToken
	return s.manager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newManager はstoredトークンから復元するManagerを生成する。startがtrueなら開始済みで返す。
func newManager(t *testing.T, backend *fakeBackend, store profile.Store, stored string, start bool) *session.Manager {
	t.Helper()
	client := auth.NewClient(backend, stored)
	coord := profile.NewCoordinator(store, nil, discardLogger(), profile.Config{Timeout: time.Second})
	m := session.NewManager(client, coord, session.Options{Logger: discardLogger(), CallTimeout: time.Second})
	t.Cleanup(m.Close)
	if start {
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	}
	return m
}
