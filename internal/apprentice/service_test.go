package apprentice

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/repository"
	"github.com/hitoshi/academy/internal/validate"
)

// --- モック定義 ---

type mockStore struct {
	findByEmailFn func(ctx context.Context, email string) (*model.Apprentice, error)
	createFn      func(ctx context.Context, a *model.Apprentice) error
	listByProfFn  func(ctx context.Context, email string) ([]*model.Apprentice, error)
	created       []*model.Apprentice
}

func (m *mockStore) FindByEmail(ctx context.Context, email string) (*model.Apprentice, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockStore) ListByProfessor(ctx context.Context, email string) ([]*model.Apprentice, error) {
	if m.listByProfFn != nil {
		return m.listByProfFn(ctx, email)
	}
	return nil, nil
}

func (m *mockStore) ListAll(context.Context) ([]*model.Apprentice, error) {
	return m.created, nil
}

func (m *mockStore) Create(ctx context.Context, a *model.Apprentice) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, a); err != nil {
			return err
		}
	}
	m.created = append(m.created, a)
	return nil
}

type mockProfiles struct {
	role model.Role
}

func (m *mockProfiles) ListByRole(_ context.Context, role model.Role) ([]*model.Profile, error) {
	m.role = role
	return []*model.Profile{{Email: "prof@example.com", Role: role}}, nil
}

var _ Store = (*mockStore)(nil)
var _ Store = (*repository.PostgresApprenticeRepo)(nil)

// --- テスト ---

func TestAdd_IssuesTokenAndNormalizesEmail(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, &mockProfiles{}, nil)

	a, err := svc.Add(context.Background(), "Prof@Example.com", validate.NewApprentice{Name: " Jane Doe ", Email: "Jane@Example.com"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if a.Email != "jane@example.com" || a.ProfessorEmail != "prof@example.com" || a.Name != "Jane Doe" {
		t.Errorf("apprentice = %+v", a)
	}
	if len(a.DashboardToken) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(a.DashboardToken))
	}
	if a.ID == "" {
		t.Error("expected generated ID")
	}
}

func TestAdd_TokensAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok, err := NewDashboardToken()
		if err != nil {
			t.Fatalf("NewDashboardToken failed: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestAdd_DuplicateEmail(t *testing.T) {
	store := &mockStore{createFn: func(context.Context, *model.Apprentice) error {
		return repository.ErrDuplicate
	}}
	svc := NewService(store, &mockProfiles{}, nil)

	_, err := svc.Add(context.Background(), "prof@example.com", validate.NewApprentice{Name: "Jane", Email: "jane@example.com"})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeApprenticeExists {
		t.Fatalf("error = %v, want APPRENTICE_EXISTS", err)
	}
}

func TestAdd_ValidationFailsBeforeStore(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, &mockProfiles{}, nil)

	_, err := svc.Add(context.Background(), "prof@example.com", validate.NewApprentice{Name: "", Email: "jane@example.com"})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Fatalf("error = %v, want VALIDATION_FAILED", err)
	}
	if len(store.created) != 0 {
		t.Error("store must not be called for invalid input")
	}
}

func TestMe_NotAdded(t *testing.T) {
	svc := NewService(&mockStore{}, &mockProfiles{}, nil)

	_, err := svc.Me(context.Background(), "jane@example.com")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeApprenticeNotAdded {
		t.Fatalf("error = %v, want APPRENTICE_NOT_ADDED", err)
	}
}

func TestMe_Found(t *testing.T) {
	store := &mockStore{findByEmailFn: func(_ context.Context, email string) (*model.Apprentice, error) {
		return &model.Apprentice{Email: email, DashboardToken: "tok"}, nil
	}}
	svc := NewService(store, &mockProfiles{}, nil)

	a, err := svc.Me(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	if a.DashboardToken != "tok" {
		t.Errorf("token = %q, want tok", a.DashboardToken)
	}
}

func TestListProfessors(t *testing.T) {
	profiles := &mockProfiles{}
	svc := NewService(&mockStore{}, profiles, nil)

	list, err := svc.ListProfessors(context.Background())
	if err != nil {
		t.Fatalf("ListProfessors failed: %v", err)
	}
	if profiles.role != model.RoleProfessor || len(list) != 1 {
		t.Errorf("role = %q, list = %v", profiles.role, list)
	}
}
