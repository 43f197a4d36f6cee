package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/academy/internal/model"
)

const submissionColumns = `id, apprentice_email, apprentice_name, professor_email, phase, module, status,
	operating_system, completed_tasks, screenshot_urls, professor_notes, submitted_at, reviewed_at`

// PostgresSubmissionRepo はPostgreSQLを使用した提出物リポジトリ。
type PostgresSubmissionRepo struct {
	db *sql.DB
}

// NewPostgresSubmissionRepo はPostgresSubmissionRepoを生成する。
func NewPostgresSubmissionRepo(db *sql.DB) *PostgresSubmissionRepo {
	return &PostgresSubmissionRepo{db: db}
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	s := &model.Submission{}
	var tasks, screenshots []byte
	if err := row.Scan(&s.ID, &s.ApprenticeEmail, &s.ApprenticeName, &s.ProfessorEmail, &s.Phase, &s.Module,
		&s.Status, &s.OperatingSystem, &tasks, &screenshots, &s.ProfessorNotes, &s.SubmittedAt, &s.ReviewedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tasks, &s.CompletedTasks); err != nil {
		return nil, fmt.Errorf("failed to decode completed tasks: %w", err)
	}
	if err := json.Unmarshal(screenshots, &s.ScreenshotURLs); err != nil {
		return nil, fmt.Errorf("failed to decode screenshot urls: %w", err)
	}
	return s, nil
}

func (r *PostgresSubmissionRepo) list(ctx context.Context, query string, args ...any) ([]*model.Submission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var subs []*model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submissions: %w", err)
	}
	return subs, nil
}

// FindByID は指定IDの提出物を取得する。見つからない場合はnilを返す。
func (r *PostgresSubmissionRepo) FindByID(ctx context.Context, id string) (*model.Submission, error) {
	s, err := scanSubmission(r.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find submission: %w", err)
	}
	return s, nil
}

// FindByIDs は指定IDの提出物を1回のクエリでまとめて取得する。
func (r *PostgresSubmissionRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Submission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ANY($1::uuid[])`,
		pq.Array(ids))
}

// ListByProfessor は講師宛ての提出物を新しい順に返す。statusが空の場合は全件。
func (r *PostgresSubmissionRepo) ListByProfessor(ctx context.Context, professorEmail string, status model.SubmissionStatus) ([]*model.Submission, error) {
	return r.list(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE lower(professor_email) = lower($1) AND ($2 = '' OR status = $2)
		 ORDER BY submitted_at DESC`,
		professorEmail, string(status))
}

// CreateWithProgress は提出物を作成し、対応する進捗行を同一トランザクションで更新する。
func (r *PostgresSubmissionRepo) CreateWithProgress(ctx context.Context, s *model.Submission, progressStatus model.ProgressStatus) error {
	tasks, err := json.Marshal(nonNil(s.CompletedTasks))
	if err != nil {
		return fmt.Errorf("failed to encode completed tasks: %w", err)
	}
	screenshots, err := json.Marshal(nonNil(s.ScreenshotURLs))
	if err != nil {
		return fmt.Errorf("failed to encode screenshot urls: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (id, apprentice_email, apprentice_name, professor_email, phase, module, status,
			operating_system, completed_tasks, screenshot_urls, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.ApprenticeEmail, s.ApprenticeName, s.ProfessorEmail, s.Phase, s.Module, s.Status,
		s.OperatingSystem, tasks, screenshots, s.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}

	// 完了済みのモジュールは再提出で差し戻さない
	if err := upsertProgress(ctx, tx, upsertProgressKeepCompleted, s.ApprenticeEmail, s.Phase, s.Module, progressStatus, s.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReviewWithProgress はレビュー結果を保存し、提出物に紐づく進捗行を同一トランザクションで更新する。
func (r *PostgresSubmissionRepo) ReviewWithProgress(ctx context.Context, id string, status model.SubmissionStatus, notes *string, progressStatus model.ProgressStatus, reviewedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var email string
	var phase model.Phase
	var module string
	err = tx.QueryRowContext(ctx,
		`UPDATE submissions SET status = $2, professor_notes = $3, reviewed_at = $4
		 WHERE id = $1
		 RETURNING apprentice_email, phase, module`,
		id, status, notes, reviewedAt,
	).Scan(&email, &phase, &module)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("submission not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}

	if err := upsertProgress(ctx, tx, upsertProgressQuery, email, phase, module, progressStatus, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const upsertProgressQuery = `INSERT INTO progress_items (apprentice_email, phase, module, status, submission_id, updated_at)
	 VALUES ($1, $2, $3, $4, $5, now())
	 ON CONFLICT (apprentice_email, phase, module)
	 DO UPDATE SET status = EXCLUDED.status, submission_id = EXCLUDED.submission_id, updated_at = now()`

// upsertProgressKeepCompleted は既存行が Completed なら何も更新しない。
const upsertProgressKeepCompleted = upsertProgressQuery + `
	 WHERE progress_items.status <> 'Completed'`

func upsertProgress(ctx context.Context, tx *sql.Tx, query, email string, phase model.Phase, module string, status model.ProgressStatus, submissionID string) error {
	_, err := tx.ExecContext(ctx, query, email, phase, module, status, submissionID)
	if err != nil {
		return fmt.Errorf("failed to upsert progress: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// compile-time interface check
var _ SubmissionRepository = (*PostgresSubmissionRepo)(nil)
