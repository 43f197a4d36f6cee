// Package apprentice は講師・管理者による見習いの登録と一覧を扱う。
package apprentice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/repository"
	"github.com/hitoshi/academy/internal/validate"
)

// tokenBytes はダッシュボードトークンの乱数バイト数。
const tokenBytes = 32

// Store は見習いレコードの永続化層。
type Store interface {
	FindByEmail(ctx context.Context, email string) (*model.Apprentice, error)
	ListByProfessor(ctx context.Context, professorEmail string) ([]*model.Apprentice, error)
	ListAll(ctx context.Context) ([]*model.Apprentice, error)
	Create(ctx context.Context, a *model.Apprentice) error
}

// ProfileLister はロール別のプロフィール一覧。
type ProfileLister interface {
	ListByRole(ctx context.Context, role model.Role) ([]*model.Profile, error)
}

// Service は見習いの登録と一覧を提供する。
type Service struct {
	store    Store
	profiles ProfileLister
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(store Store, profiles ProfileLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, profiles: profiles, logger: logger, now: time.Now}
}

// Add は講師の見習いを登録する。ダッシュボードトークンはここで発行される。
func (s *Service) Add(ctx context.Context, professorEmail string, in validate.NewApprentice) (*model.Apprentice, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	token, err := NewDashboardToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	a := &model.Apprentice{
		ID:             uuid.New().String(),
		Name:           in.Name,
		Email:          strings.ToLower(in.Email),
		ProfessorEmail: strings.ToLower(professorEmail),
		EmploymentType: in.EmploymentType,
		DashboardToken: token,
		Checklist:      map[model.ChecklistField]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewApprenticeExistsError()
		}
		return nil, fmt.Errorf("failed to create apprentice: %w", err)
	}

	s.logger.Info("apprentice added",
		slog.String("apprentice_email", a.Email),
		slog.String("professor_email", a.ProfessorEmail),
	)
	return a, nil
}

// ListForProfessor は講師に紐づく見習いを返す。
func (s *Service) ListForProfessor(ctx context.Context, professorEmail string) ([]*model.Apprentice, error) {
	list, err := s.store.ListByProfessor(ctx, professorEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to list apprentices: %w", err)
	}
	return list, nil
}

// ListAll は全見習いを返す。
func (s *Service) ListAll(ctx context.Context) ([]*model.Apprentice, error) {
	list, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list apprentices: %w", err)
	}
	return list, nil
}

// ListProfessors は全講師のプロフィールを返す。
func (s *Service) ListProfessors(ctx context.Context) ([]*model.Profile, error) {
	list, err := s.profiles.ListByRole(ctx, model.RoleProfessor)
	if err != nil {
		return nil, fmt.Errorf("failed to list professors: %w", err)
	}
	return list, nil
}

// Me はログイン中の見習い自身のレコードを返す。
// 講師がまだ登録していなければ APPRENTICE_NOT_ADDED を返す。
func (s *Service) Me(ctx context.Context, email string) (*model.Apprentice, error) {
	a, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find apprentice: %w", err)
	}
	if a == nil {
		return nil, model.NewApprenticeNotAddedError()
	}
	return a, nil
}

// NewDashboardToken は推測不能なダッシュボードトークンを生成する。
func NewDashboardToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate dashboard token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
