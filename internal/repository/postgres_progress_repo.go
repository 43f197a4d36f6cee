package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/academy/internal/model"
)

// PostgresProgressRepo はPostgreSQLを使用した進捗リポジトリ。
type PostgresProgressRepo struct {
	db *sql.DB
}

// NewPostgresProgressRepo はPostgresProgressRepoを生成する。
func NewPostgresProgressRepo(db *sql.DB) *PostgresProgressRepo {
	return &PostgresProgressRepo{db: db}
}

// ListByApprentice は見習いの全進捗行を返す。
func (r *PostgresProgressRepo) ListByApprentice(ctx context.Context, apprenticeEmail string) ([]*model.ProgressItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, apprentice_email, phase, module, status, submission_id, updated_at
		 FROM progress_items
		 WHERE lower(apprentice_email) = lower($1)
		 ORDER BY phase, updated_at`,
		apprenticeEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var items []*model.ProgressItem
	for rows.Next() {
		item := &model.ProgressItem{}
		if err := rows.Scan(&item.ID, &item.ApprenticeEmail, &item.Phase, &item.Module,
			&item.Status, &item.SubmissionID, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress: %w", err)
	}
	return items, nil
}

// InsertMissing は存在しないモジュールキーの行を Not Started で挿入し、挿入件数を返す。
// (apprentice_email, phase, module) の一意制約により、並行実行されても重複しない。
func (r *PostgresProgressRepo) InsertMissing(ctx context.Context, apprenticeEmail string, keys []model.ModuleKey) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	phases := make([]string, len(keys))
	modules := make([]string, len(keys))
	for i, k := range keys {
		phases[i] = string(k.Phase)
		modules[i] = k.Module
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO progress_items (apprentice_email, phase, module, status)
		 SELECT $1, t.phase, t.module, $4
		 FROM unnest($2::text[], $3::text[]) AS t(phase, module)
		 ON CONFLICT (apprentice_email, phase, module) DO NOTHING`,
		apprenticeEmail, pq.Array(phases), pq.Array(modules), model.StatusNotStarted,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert missing progress: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// compile-time interface check
var _ ProgressRepository = (*PostgresProgressRepo)(nil)
