package model

import "time"

// Role はポータル上の役割を表す。
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleProfessor  Role = "professor"
	RoleApprentice Role = "apprentice"
)

// Valid は既知のロールかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProfessor, RoleApprentice:
		return true
	}
	return false
}

// UserMetadata はサインアップ時に認証ユーザーへ保存される付帯情報。
// プロフィール初回作成時の名前とロールの元データになる。
type UserMetadata struct {
	Name string `json:"name,omitempty"`
	Role Role   `json:"role,omitempty"`
}

// User は認証済みユーザー（認証バックエンド上のアカウント）を表す。
type User struct {
	ID        string
	Email     string
	Metadata  UserMetadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account はパスワードハッシュを含む認証アカウントの永続化表現。
type Account struct {
	User
	PasswordHash string
}

// Profile はアプリケーション側のユーザープロフィール。
// IDは認証ユーザーのIDと一致する。
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	FirstName *string   `json:"first_name"`
	LastName  *string   `json:"last_name"`
	AvatarURL *string   `json:"avatar_url"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session はクライアントが保持する認証セッション。
// AccessTokenはJWT、RefreshTokenは不透明なランダム文字列。
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// Expired はアクセストークンの有効期限が切れているかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RefreshSession はサーバー側に保存されるリフレッシュトークンのレコード。
// トークン本体は保存せずハッシュのみを持つ。
type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordReset はパスワード再設定用のワンタイムトークン。
type PasswordReset struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// AuthEvent は認証状態変化イベントの種別。
type AuthEvent string

const (
	AuthEventInitialSession   AuthEvent = "INITIAL_SESSION"
	AuthEventSignedIn         AuthEvent = "SIGNED_IN"
	AuthEventSignedOut        AuthEvent = "SIGNED_OUT"
	AuthEventTokenRefreshed   AuthEvent = "TOKEN_REFRESHED"
	AuthEventUserUpdated      AuthEvent = "USER_UPDATED"
	AuthEventPasswordRecovery AuthEvent = "PASSWORD_RECOVERY"
)
