package masquerade

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hitoshi/academy/internal/model"
)

// TargetLookup はなりすまし対象の解決に使う読み取り操作。
type TargetLookup interface {
	FindApprenticeByEmail(ctx context.Context, email string) (*model.Apprentice, error)
	FindProfileByEmail(ctx context.Context, email string) (*model.Profile, error)
}

// Service はなりすましの開始可否を判定し、対象を解決する。
type Service struct {
	lookup    TargetLookup
	allowlist []string
}

// NewService はServiceを生成する。allowlistが空なら全管理者に許可する。
func NewService(lookup TargetLookup, allowlist []string) *Service {
	return &Service{lookup: lookup, allowlist: allowlist}
}

// CanInitiate は管理者がなりすましを開始できるかを判定する。
func (s *Service) CanInitiate(admin *model.Profile) error {
	if admin == nil || admin.Role != model.RoleAdmin {
		return model.NewMasqueradeNotAllowedError()
	}
	if len(s.allowlist) > 0 && !slices.Contains(s.allowlist, strings.ToLower(admin.Email)) {
		return model.NewMasqueradeNotAllowedError()
	}
	return nil
}

// Begin は対象を解決してタブのストレージに状態を書き込み、対象ビューのURLを返す。
func (s *Service) Begin(ctx context.Context, storage Storage, admin *model.Profile, targetEmail string, targetType TargetType) (string, error) {
	if err := s.CanInitiate(admin); err != nil {
		return "", err
	}

	c := Context{
		OriginalAdminEmail: admin.Email,
		TargetEmail:        targetEmail,
		TargetType:         targetType,
	}
	switch targetType {
	case TargetApprentice:
		a, err := s.lookup.FindApprenticeByEmail(ctx, targetEmail)
		if err != nil {
			return "", fmt.Errorf("failed to find apprentice: %w", err)
		}
		if a == nil {
			return "", model.NewMasqueradeTargetError(targetEmail)
		}
		c.TargetName = a.Name
		c.TargetDashboardToken = a.DashboardToken
	case TargetProfessor:
		p, err := s.lookup.FindProfileByEmail(ctx, targetEmail)
		if err != nil {
			return "", fmt.Errorf("failed to find professor: %w", err)
		}
		if p == nil || p.Role != model.RoleProfessor {
			return "", model.NewMasqueradeTargetError(targetEmail)
		}
		c.TargetName = p.Name
	default:
		return "", model.NewValidationError("targetType must be apprentice or professor")
	}

	return Initiate(storage, c), nil
}

// EffectiveProfessorEmail は講師向けビューで使う講師のメールアドレスを返す。
// タブのなりすまし状態が講師対象で、開始した管理者が要求者本人の場合のみ対象講師を返す。
func EffectiveProfessorEmail(c Context, requester *model.Profile) string {
	if requester == nil {
		return ""
	}
	if c.Active && c.TargetType == TargetProfessor && requester.Role == model.RoleAdmin &&
		strings.EqualFold(c.OriginalAdminEmail, requester.Email) {
		return c.TargetEmail
	}
	return requester.Email
}
