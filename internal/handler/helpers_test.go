package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/academy/internal/auth"
	"github.com/hitoshi/academy/internal/dashboard"
	"github.com/hitoshi/academy/internal/masquerade"
	"github.com/hitoshi/academy/internal/middleware"
	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/notify"
	"github.com/hitoshi/academy/internal/orientation"
	"github.com/hitoshi/academy/internal/profile"
	"github.com/hitoshi/academy/internal/realtime"
	"github.com/hitoshi/academy/internal/review"
	"github.com/hitoshi/academy/internal/session"
	"github.com/hitoshi/academy/internal/validate"
)

// --- モック定義 ---

// fakeBackend は"refresh-<id>"形式のトークンを受け付ける認証バックエンド。
// パスワード"wrong"のサインインは失敗する。
type fakeBackend struct {
	signOutErr error
}

func (f *fakeBackend) SignInWithPassword(_ context.Context, email, password string) (*model.Session, error) {
	if password == "wrong" {
		return nil, model.NewInvalidCredentialsError()
	}
	id, _, _ := strings.Cut(email, "@")
	return testSession(id, email), nil
}

func (f *fakeBackend) SignUp(_ context.Context, email, _ string, _ model.UserMetadata) (*model.Session, error) {
	id, _, _ := strings.Cut(email, "@")
	return testSession(id, email), nil
}

func (f *fakeBackend) Refresh(_ context.Context, token string) (*model.Session, error) {
	id, ok := strings.CutPrefix(token, "refresh-")
	if !ok || id == "" {
		return nil, auth.ErrSessionNotFound
	}
	return testSession(id, id+"@example.com"), nil
}

func (f *fakeBackend) SignOut(context.Context, string) error {
	return f.signOutErr
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

func testSession(userID, email string) *model.Session {
	return &model.Session{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         model.User{ID: userID, Email: email},
	}
}

// roleStore はユーザーIDごとのロールでプロフィールを返す。
type roleStore struct {
	roles map[string]model.Role
}

func (s *roleStore) FindByID(_ context.Context, id string) (*model.Profile, error) {
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
	manager *session.Manager
}

func (s *stubSource) Get(context.Context, string, string) *session.Manager {
	return s.manager
}

// mockView はDashboardViewのモック実装。
type mockView struct {
	loadFn func(ctx context.Context) (*dashboard.Dashboard, error)
}

func (m *mockView) Load(ctx context.Context) (*dashboard.Dashboard, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx)
	}
	return &dashboard.Dashboard{}, nil
}

// mockDashboardService はDashboardServiceのモック実装。
type mockDashboardService struct {
	openFn            func(token string) DashboardView
	updateChecklistFn func(ctx context.Context, token string, field model.ChecklistField, checked bool) error
	unlockPhase2Fn    func(ctx context.Context, token, professorEmail string) (*model.Apprentice, error)
}

func (m *mockDashboardService) Open(token string) DashboardView {
	if m.openFn != nil {
		return m.openFn(token)
	}
	return &mockView{}
}

func (m *mockDashboardService) UpdateChecklist(ctx context.Context, token string, field model.ChecklistField, checked bool) error {
	if m.updateChecklistFn != nil {
		return m.updateChecklistFn(ctx, token, field, checked)
	}
	return nil
}

func (m *mockDashboardService) UnlockPhase2(ctx context.Context, token, professorEmail string) (*model.Apprentice, error) {
	if m.unlockPhase2Fn != nil {
		return m.unlockPhase2Fn(ctx, token, professorEmail)
	}
	return &model.Apprentice{DashboardToken: token}, nil
}

// mockApprenticeService はApprenticeServiceのモック実装。
type mockApprenticeService struct {
	addFn              func(ctx context.Context, professorEmail string, in validate.NewApprentice) (*model.Apprentice, error)
	listForProfessorFn func(ctx context.Context, professorEmail string) ([]*model.Apprentice, error)
	listAllFn          func(ctx context.Context) ([]*model.Apprentice, error)
	listProfessorsFn   func(ctx context.Context) ([]*model.Profile, error)
	meFn               func(ctx context.Context, email string) (*model.Apprentice, error)
}

func (m *mockApprenticeService) Add(ctx context.Context, professorEmail string, in validate.NewApprentice) (*model.Apprentice, error) {
	if m.addFn != nil {
		return m.addFn(ctx, professorEmail, in)
	}
	return nil, nil
}

func (m *mockApprenticeService) ListForProfessor(ctx context.Context, professorEmail string) ([]*model.Apprentice, error) {
	if m.listForProfessorFn != nil {
		return m.listForProfessorFn(ctx, professorEmail)
	}
	return nil, nil
}

func (m *mockApprenticeService) ListAll(ctx context.Context) ([]*model.Apprentice, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockApprenticeService) ListProfessors(ctx context.Context) ([]*model.Profile, error) {
	if m.listProfessorsFn != nil {
		return m.listProfessorsFn(ctx)
	}
	return nil, nil
}

func (m *mockApprenticeService) Me(ctx context.Context, email string) (*model.Apprentice, error) {
	if m.meFn != nil {
		return m.meFn(ctx, email)
	}
	return nil, model.NewApprenticeNotAddedError()
}

// mockReviewService はReviewServiceのモック実装。
type mockReviewService struct {
	listFn   func(ctx context.Context, professorEmail string, status model.SubmissionStatus) ([]*model.Submission, error)
	reviewFn func(ctx context.Context, reviewer review.Reviewer, id string, in validate.Review) (*model.Submission, error)
}

func (m *mockReviewService) List(ctx context.Context, professorEmail string, status model.SubmissionStatus) ([]*model.Submission, error) {
	if m.listFn != nil {
		return m.listFn(ctx, professorEmail, status)
	}
	return nil, nil
}

func (m *mockReviewService) Review(ctx context.Context, reviewer review.Reviewer, id string, in validate.Review) (*model.Submission, error) {
	if m.reviewFn != nil {
		return m.reviewFn(ctx, reviewer, id, in)
	}
	return &model.Submission{ID: id, Status: model.SubmissionStatus(in.Status)}, nil
}

// mockOrientationService はOrientationServiceのモック実装。
type mockOrientationService struct {
	contextFn func(ctx context.Context, link orientation.DeepLink) (*orientation.Context, error)
	submitFn  func(ctx context.Context, link orientation.DeepLink, in orientation.Submission) (*model.Submission, error)
}

func (m *mockOrientationService) Context(ctx context.Context, link orientation.DeepLink) (*orientation.Context, error) {
	if m.contextFn != nil {
		return m.contextFn(ctx, link)
	}
	return &orientation.Context{}, nil
}

func (m *mockOrientationService) Submit(ctx context.Context, link orientation.DeepLink, in orientation.Submission) (*model.Submission, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, link, in)
	}
	return &model.Submission{}, nil
}

// mockMasqueradeStarter はMasqueradeStarterのモック実装。
type mockMasqueradeStarter struct {
	beginFn func(ctx context.Context, storage masquerade.Storage, admin *model.Profile, targetEmail string, targetType masquerade.TargetType) (string, error)
}

func (m *mockMasqueradeStarter) Begin(ctx context.Context, storage masquerade.Storage, admin *model.Profile, targetEmail string, targetType masquerade.TargetType) (string, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx, storage, admin, targetEmail, targetType)
	}
	return "", nil
}

// mockMailer はOrientationMailerのモック実装。
type mockMailer struct {
	sendFn func(ctx context.Context, n notify.OrientationNotification) error
}

func (m *mockMailer) SendOrientation(ctx context.Context, n notify.OrientationNotification) error {
	if m.sendFn != nil {
		return m.sendFn(ctx, n)
	}
	return nil
}

// mockSubscriber はChangeSubscriberのモック実装。購読されたハンドラーを保持する。
type mockSubscriber struct {
	subscribed chan realtime.Handler
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{subscribed: make(chan realtime.Handler, 1)}
}

func (m *mockSubscriber) Subscribe(_ string, handler realtime.Handler) func() {
	m.subscribed <- handler
	return func() {}
}

// --- テストヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newManager はstoredトークンから復元する開始済みのManagerを生成する。
func newManager(t *testing.T, backend *fakeBackend, roles map[string]model.Role, stored string) *session.Manager {
	t.Helper()
	client := auth.NewClient(backend, stored)
	coord := profile.NewCoordinator(&roleStore{roles: roles}, nil, discardLogger(), profile.Config{Timeout: time.Second})
	m := session.NewManager(client, coord, session.Options{Logger: discardLogger(), CallTimeout: time.Second})
	t.Cleanup(m.Close)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return m
}

// withManager はテスト用にリクエストコンテキストにManagerを注入する。
func withManager(r *http.Request, m *session.Manager) *http.Request {
	return r.WithContext(middleware.ContextWithManager(r.Context(), "client-1", m))
}

// withProfile はテスト用にRequireRoleを通過した状態のプロフィールを注入する。
func withProfile(r *http.Request, p *model.Profile) *http.Request {
	snap := session.Snapshot{
		State:   session.StateAuthenticated,
		User:    &model.User{ID: p.ID, Email: p.Email},
		Profile: p,
	}
	return r.WithContext(middleware.ContextWithSnapshot(r.Context(), snap))
}

// withTab はテスト用にタブのストレージを注入する。
func withTab(r *http.Request, tab *masquerade.TabStorage) *http.Request {
	return r.WithContext(middleware.ContextWithTabStorage(r.Context(), tab))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入する。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseErrorBody はレスポンスボディからエラーレスポンスをパースする。
func parseErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

func professor(email string) *model.Profile {
	return &model.Profile{ID: "p-" + email, Email: email, Name: "Prof", Role: model.RoleProfessor}
}

func admin(email string) *model.Profile {
	return &model.Profile{ID: "a-" + email, Email: email, Name: "Admin", Role: model.RoleAdmin}
}
