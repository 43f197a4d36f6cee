// Package review は講師による提出物のレビューを扱う。
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/security"
	"github.com/hitoshi/academy/internal/validate"
)

// Store は提出物の永続化層。
type Store interface {
	FindByID(ctx context.Context, id string) (*model.Submission, error)
	ListByProfessor(ctx context.Context, professorEmail string, status model.SubmissionStatus) ([]*model.Submission, error)
	ReviewWithProgress(ctx context.Context, id string, status model.SubmissionStatus, notes *string, progressStatus model.ProgressStatus, reviewedAt time.Time) error
}

// Reviewer はレビューを行う講師。Adminは担当外の提出物もレビューできる。
type Reviewer struct {
	Email string
	Admin bool
}

// Service は提出物の一覧とレビューを提供する。
type Service struct {
	store     Store
	sanitizer security.Sanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(store Store, sanitizer security.Sanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, sanitizer: sanitizer, logger: logger, now: time.Now}
}

// List は講師宛ての提出物を返す。statusが空なら全件。
func (s *Service) List(ctx context.Context, professorEmail string, status model.SubmissionStatus) ([]*model.Submission, error) {
	subs, err := s.store.ListByProfessor(ctx, professorEmail, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}

// ProgressFor はレビュー結果に対応する進捗状態を返す。
func ProgressFor(status model.SubmissionStatus) model.ProgressStatus {
	if status == model.SubmissionApproved {
		return model.StatusCompleted
	}
	return model.StatusInProgress
}

// Review はレビュー結果を保存し、対応するモジュールの進捗を更新する。
func (s *Service) Review(ctx context.Context, reviewer Reviewer, id string, in validate.Review) (*model.Submission, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	sub, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find submission: %w", err)
	}
	if sub == nil {
		return nil, model.NewSubmissionNotFoundError(id)
	}
	if !reviewer.Admin && !strings.EqualFold(sub.ProfessorEmail, reviewer.Email) {
		return nil, model.NewForbiddenError()
	}

	status := model.SubmissionStatus(in.Status)
	var notes *string
	if cleaned := s.sanitizer.Notes(in.Notes); cleaned != "" {
		notes = &cleaned
	}
	reviewedAt := s.now()

	if err := s.store.ReviewWithProgress(ctx, id, status, notes, ProgressFor(status), reviewedAt); err != nil {
		return nil, fmt.Errorf("failed to save review: %w", err)
	}

	s.logger.Info("submission reviewed",
		slog.String("submission_id", id),
		slog.String("status", string(status)),
		slog.String("reviewer", reviewer.Email),
	)

	sub.Status = status
	sub.ProfessorNotes = notes
	sub.ReviewedAt = &reviewedAt
	return sub, nil
}
