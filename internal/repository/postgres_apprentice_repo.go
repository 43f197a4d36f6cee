package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/academy/internal/model"
)

const apprenticeColumns = `id, name, email, professor_email, employment_type, dashboard_token, checklist, created_at, updated_at`

// PostgresApprenticeRepo はPostgreSQLを使用した見習いリポジトリ。
type PostgresApprenticeRepo struct {
	db *sql.DB
}

// NewPostgresApprenticeRepo はPostgresApprenticeRepoを生成する。
func NewPostgresApprenticeRepo(db *sql.DB) *PostgresApprenticeRepo {
	return &PostgresApprenticeRepo{db: db}
}

func scanApprentice(row rowScanner) (*model.Apprentice, error) {
	a := &model.Apprentice{}
	var checklist []byte
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.ProfessorEmail, &a.EmploymentType,
		&a.DashboardToken, &checklist, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Checklist = make(map[model.ChecklistField]string)
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &a.Checklist); err != nil {
			return nil, fmt.Errorf("failed to decode checklist: %w", err)
		}
	}
	return a, nil
}

func (r *PostgresApprenticeRepo) findOne(ctx context.Context, where string, arg any) (*model.Apprentice, error) {
	a, err := scanApprentice(r.db.QueryRowContext(ctx,
		`SELECT `+apprenticeColumns+` FROM apprentices WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find apprentice: %w", err)
	}
	return a, nil
}

// FindByToken はダッシュボードトークンで見習いを取得する。見つからない場合はnilを返す。
func (r *PostgresApprenticeRepo) FindByToken(ctx context.Context, token string) (*model.Apprentice, error) {
	return r.findOne(ctx, `dashboard_token = $1`, token)
}

// FindByEmail はメールアドレスで見習いを取得する。見つからない場合はnilを返す。
func (r *PostgresApprenticeRepo) FindByEmail(ctx context.Context, email string) (*model.Apprentice, error) {
	return r.findOne(ctx, `lower(email) = lower($1)`, email)
}

func (r *PostgresApprenticeRepo) list(ctx context.Context, query string, args ...any) ([]*model.Apprentice, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list apprentices: %w", err)
	}
	defer rows.Close()

	var apprentices []*model.Apprentice
	for rows.Next() {
		a, err := scanApprentice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan apprentice: %w", err)
		}
		apprentices = append(apprentices, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate apprentices: %w", err)
	}
	return apprentices, nil
}

// ListByProfessor は講師に紐づく見習いを名前順で返す。
func (r *PostgresApprenticeRepo) ListByProfessor(ctx context.Context, professorEmail string) ([]*model.Apprentice, error) {
	return r.list(ctx,
		`SELECT `+apprenticeColumns+` FROM apprentices WHERE lower(professor_email) = lower($1) ORDER BY name`,
		professorEmail)
}

// ListAll は全見習いを名前順で返す。
func (r *PostgresApprenticeRepo) ListAll(ctx context.Context) ([]*model.Apprentice, error) {
	return r.list(ctx, `SELECT `+apprenticeColumns+` FROM apprentices ORDER BY name`)
}

// Create は見習いを作成する。メールアドレス重複時はErrDuplicateを返す。
func (r *PostgresApprenticeRepo) Create(ctx context.Context, a *model.Apprentice) error {
	checklist, err := json.Marshal(a.Checklist)
	if err != nil {
		return fmt.Errorf("failed to encode checklist: %w", err)
	}
	if a.Checklist == nil {
		checklist = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO apprentices (id, name, email, professor_email, employment_type, dashboard_token, checklist, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Name, a.Email, a.ProfessorEmail, a.EmploymentType, a.DashboardToken, checklist, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert apprentice: %w", err)
	}
	return nil
}

// UpdateChecklistField はチェックリストの1項目に番兵文字列を書き込む。
func (r *PostgresApprenticeRepo) UpdateChecklistField(ctx context.Context, token string, field model.ChecklistField, value string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE apprentices
		 SET checklist = jsonb_set(checklist, ARRAY[$2::text], to_jsonb($3::text), true), updated_at = now()
		 WHERE dashboard_token = $1`,
		token, string(field), value,
	)
	if err != nil {
		return fmt.Errorf("failed to update checklist field %s: %w", field, err)
	}
	return nil
}

// compile-time interface check
var _ ApprenticeRepository = (*PostgresApprenticeRepo)(nil)
