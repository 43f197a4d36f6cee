// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/academy/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate record")

// AccountRepository は認証アカウントの永続化インターフェース。
type AccountRepository interface {
	// FindByEmail はメールアドレス（大文字小文字を区別しない）でアカウントを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はアカウントを作成する。メールアドレス重複時はErrDuplicateを返す。
	Create(ctx context.Context, account *model.Account) error

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// SessionRepository はリフレッシュセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.RefreshSession) error
	// FindByTokenHash はトークンハッシュでセッションを取得する。期限切れの場合はnilを返す。
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshSession, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// PasswordResetRepository はパスワード再設定トークンの永続化インターフェース。
type PasswordResetRepository interface {
	// Create は再設定トークンを作成する。
	Create(ctx context.Context, reset *model.PasswordReset) error
	// FindActiveByTokenHash は未使用かつ期限内のトークンを取得する。見つからない場合はnilを返す。
	FindActiveByTokenHash(ctx context.Context, tokenHash string) (*model.PasswordReset, error)
	// MarkUsed はトークンを使用済みにする。
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	// FindByEmail はメールアドレスでプロフィールを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Profile, error)
	// Insert はプロフィールを作成し、保存された行を返す。
	Insert(ctx context.Context, profile *model.Profile) (*model.Profile, error)
	// ListByRole は指定ロールのプロフィールを名前順で返す。
	ListByRole(ctx context.Context, role model.Role) ([]*model.Profile, error)
}

// ApprenticeRepository は見習いレコードの永続化インターフェース。
type ApprenticeRepository interface {
	// FindByToken はダッシュボードトークンで見習いを取得する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.Apprentice, error)
	// FindByEmail はメールアドレスで見習いを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Apprentice, error)
	// ListByProfessor は講師に紐づく見習いを名前順で返す。
	ListByProfessor(ctx context.Context, professorEmail string) ([]*model.Apprentice, error)
	// ListAll は全見習いを名前順で返す。
	ListAll(ctx context.Context) ([]*model.Apprentice, error)
	// Create は見習いを作成する。メールアドレス重複時はErrDuplicateを返す。
	Create(ctx context.Context, apprentice *model.Apprentice) error
	// UpdateChecklistField はチェックリストの1項目に番兵文字列を書き込む。
	UpdateChecklistField(ctx context.Context, token string, field model.ChecklistField, value string) error
}

// ProgressRepository はモジュール進捗の永続化インターフェース。
type ProgressRepository interface {
	// ListByApprentice は見習いの全進捗行を返す。同一モジュールの重複行もそのまま返す。
	ListByApprentice(ctx context.Context, apprenticeEmail string) ([]*model.ProgressItem, error)
	// InsertMissing は存在しないモジュールキーの行を Not Started で挿入し、挿入件数を返す。
	// 既存行は変更しない。
	InsertMissing(ctx context.Context, apprenticeEmail string, keys []model.ModuleKey) (int, error)
}

// SubmissionRepository は提出物の永続化インターフェース。
type SubmissionRepository interface {
	// FindByID は指定IDの提出物を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Submission, error)
	// FindByIDs は指定IDの提出物をまとめて取得する。存在しないIDは無視する。
	FindByIDs(ctx context.Context, ids []string) ([]*model.Submission, error)
	// ListByProfessor は講師宛ての提出物を新しい順に返す。statusが空の場合は全件。
	ListByProfessor(ctx context.Context, professorEmail string, status model.SubmissionStatus) ([]*model.Submission, error)
	// CreateWithProgress は提出物を作成し、対応する進捗行を同一トランザクションで更新する。
	CreateWithProgress(ctx context.Context, submission *model.Submission, progressStatus model.ProgressStatus) error
	// ReviewWithProgress はレビュー結果を保存し、提出物に紐づく進捗行を同一トランザクションで更新する。
	ReviewWithProgress(ctx context.Context, id string, status model.SubmissionStatus, notes *string, progressStatus model.ProgressStatus, reviewedAt time.Time) error
}
