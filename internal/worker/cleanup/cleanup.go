// Package cleanup は認証データの自動削除ジョブを提供する。
// 期限切れのリフレッシュセッションと、期限切れまたは使用済みになってから
// 保持期間（デフォルト7日）を過ぎたパスワード再設定トークンを定期的に削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// target は1つの削除対象。
type target struct {
	name        string
	query       string
	usesInterval bool
}

var targets = []target{
	{
		name:  "sessions",
		query: `DELETE FROM sessions WHERE expires_at < now()`,
	},
	{
		name: "password_resets",
		query: `DELETE FROM password_resets
		 WHERE expires_at < now() - $1::interval
		    OR used_at < now() - $1::interval`,
		usesInterval: true,
	},
}

// CleanupJob は期限切れの認証データの自動削除ジョブ。
// 冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 再設定トークンの保持日数（デフォルト: 7）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 7,
	}
}

// Run は全対象の削除を1回実行する。途中で失敗した場合は残りを実行せずにエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	interval := fmt.Sprintf("%d days", j.RetentionDays)

	var total int64
	for _, t := range targets {
		var args []any
		if t.usesInterval {
			args = append(args, interval)
		}
		result, err := j.db.ExecContext(ctx, t.query, args...)
		if err != nil {
			j.logger.Error("cleanup failed",
				slog.String("table", t.name),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("failed to clean up %s: %w", t.name, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count deleted %s: %w", t.name, err)
		}
		total += n
		j.logger.Debug("cleanup target done", slog.String("table", t.name), slog.Int64("deleted_count", n))
	}

	j.logger.Info("cleanup completed",
		slog.Int64("deleted_count", total),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降intervalごとに実行する。ctxが終了するまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
