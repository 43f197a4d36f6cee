// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, dashboard, masquerade, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken           = "EMAIL_TAKEN"
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeValidation           = "VALIDATION_FAILED"
	ErrCodeInvalidResetToken    = "INVALID_RESET_TOKEN"
	ErrCodeDashboardNotFound    = "DASHBOARD_NOT_FOUND"
	ErrCodeApprenticeNotAdded   = "APPRENTICE_NOT_ADDED"
	ErrCodeApprenticeExists     = "APPRENTICE_EXISTS"
	ErrCodeSubmissionNotFound   = "SUBMISSION_NOT_FOUND"
	ErrCodeInvalidDeepLink      = "INVALID_DEEP_LINK"
	ErrCodeMasqueradeNotAllowed = "MASQUERADE_NOT_ALLOWED"
	ErrCodeMasqueradeTarget     = "MASQUERADE_TARGET_NOT_FOUND"
	ErrCodeProfileUnavailable   = "PROFILE_UNAVAILABLE"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeCSRF                 = "CSRF_TOKEN_INVALID"
	ErrCodeSessionLoading       = "SESSION_LOADING"
)

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your email and password and try again.",
	}
}

// NewEmailTakenError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "An account with this email already exists.",
		Category: "auth",
		Action:   "Sign in instead, or reset your password.",
	}
}

// NewUnauthenticatedError は未ログインのエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "You are not signed in.",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewForbiddenError は権限不足のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "You do not have access to this page.",
		Category: "auth",
		Action:   "Return to your dashboard.",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "Correct the highlighted field and submit again.",
	}
}

// NewInvalidResetTokenError はパスワード再設定リンクが無効な場合のエラーを生成する。
func NewInvalidResetTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidResetToken,
		Message:  "This password reset link is invalid or has expired.",
		Category: "auth",
		Action:   "Request a new password reset email.",
	}
}

// NewDashboardNotFoundError はトークンに対応する見習いが存在しない場合のエラーを生成する。
func NewDashboardNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeDashboardNotFound,
		Message:  "Dashboard Not Found",
		Category: "dashboard",
		Action:   "Check the link from your professor.",
	}
}

// NewApprenticeNotAddedError は見習いがまだ講師に登録されていない場合のエラーを生成する。
func NewApprenticeNotAddedError() *APIError {
	return &APIError{
		Code:     ErrCodeApprenticeNotAdded,
		Message:  "Your professor has not added you yet.",
		Category: "dashboard",
		Action:   "Please wait for your professor to add you, then refresh.",
	}
}

// NewApprenticeExistsError は同じメールアドレスの見習いが既に存在する場合のエラーを生成する。
func NewApprenticeExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeApprenticeExists,
		Message:  "An apprentice with this email already exists.",
		Category: "validation",
		Action:   "Use a different email address.",
	}
}

// NewSubmissionNotFoundError は提出物が見つからない場合のエラーを生成する。
func NewSubmissionNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeSubmissionNotFound,
		Message:  fmt.Sprintf("Submission not found: %s", id),
		Category: "dashboard",
		Action:   "Reload the submission list.",
	}
}

// NewInvalidDeepLinkError はオリエンテーションのディープリンクが不正な場合のエラーを生成する。
func NewInvalidDeepLinkError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDeepLink,
		Message:  fmt.Sprintf("Invalid orientation link: %s", reason),
		Category: "validation",
		Action:   "Open the orientation link from your dashboard again.",
	}
}

// NewMasqueradeNotAllowedError はマスカレード開始権限がない場合のエラーを生成する。
func NewMasqueradeNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeMasqueradeNotAllowed,
		Message:  "You are not allowed to view the portal as another user.",
		Category: "masquerade",
		Action:   "Ask an administrator for access.",
	}
}

// NewMasqueradeTargetError はマスカレード対象が存在しない場合のエラーを生成する。
func NewMasqueradeTargetError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeMasqueradeTarget,
		Message:  fmt.Sprintf("No user to view as: %s", email),
		Category: "masquerade",
		Action:   "Pick a user from the admin list.",
	}
}

// NewProfileUnavailableError はプロフィールを取得できない場合のエラーを生成する。
func NewProfileUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileUnavailable,
		Message:  "Your profile could not be loaded.",
		Category: "system",
		Action:   "Try again in a moment.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewCSRFError はCSRFトークン検証に失敗した場合のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "Your request could not be verified.",
		Category: "system",
		Action:   "Reload the page and try again.",
	}
}

// NewSessionLoadingError は認証状態がまだ確定していない場合のエラーを生成する。
func NewSessionLoadingError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionLoading,
		Message:  "Your session is still loading.",
		Category: "auth",
		Action:   "Retry in a moment.",
	}
}
