package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/academy/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用した認証アカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByEmail はメールアドレスでアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	account := &model.Account{}
	var meta []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, user_metadata, created_at, updated_at
		 FROM accounts WHERE lower(email) = lower($1)`,
		email,
	).Scan(&account.ID, &account.Email, &account.PasswordHash, &meta, &account.CreatedAt, &account.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	if err := json.Unmarshal(meta, &account.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode user metadata: %w", err)
	}

	return account, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	var meta []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, user_metadata, created_at, updated_at FROM accounts WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &meta, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	if err := json.Unmarshal(meta, &user.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode user metadata: %w", err)
	}

	return user, nil
}

// Create はアカウントを作成する。メールアドレス重複時はErrDuplicateを返す。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	meta, err := json.Marshal(account.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode user metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, user_metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.Email, account.PasswordHash, meta, account.CreatedAt, account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresAccountRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
