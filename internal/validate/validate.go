// Package validate はフォーム入力の検証を行い、最初の違反をAPIErrorに変換する。
package validate

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/hitoshi/academy/internal/model"
)

const (
	notBlankTag   = "notblank"
	signupRoleTag = "signup_role"
	reviewTag     = "review_status"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	locale := en.New()
	translator, _ = ut.New(locale, locale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// エラーメッセージにはJSONのフィールド名を使う
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation(signupRoleTag, func(fl validator.FieldLevel) bool {
		role := model.Role(fl.Field().String())
		return role == model.RoleProfessor || role == model.RoleApprentice
	})

	_ = validate.RegisterValidation(reviewTag, func(fl validator.FieldLevel) bool {
		status := model.SubmissionStatus(fl.Field().String())
		return status == model.SubmissionApproved || status == model.SubmissionNeedsWork
	})

	registerMessage(notBlankTag, "{0} cannot be blank")
	registerMessage(signupRoleTag, "{0} must be professor or apprentice")
	registerMessage(reviewTag, "{0} must be Approved or Needs Work")
}

func registerMessage(tag, text string) {
	_ = validate.RegisterTranslation(tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T(tag, fe.Field())
			return msg
		},
	)
}

// Struct はタグに従ってvを検証する。違反があれば最初の違反を表すAPIErrorを返す。
func Struct(v any) *model.APIError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return model.NewValidationError(fieldErrs[0].Translate(translator))
	}
	return model.NewValidationError(err.Error())
}

// Credentials はサインインの入力。
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Signup はサインアップの入力。
type Signup struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"notblank,max=255"`
	Role     string `json:"role" validate:"signup_role"`
}

// NewPassword はパスワード変更の入力。
type NewPassword struct {
	Password string `json:"password" validate:"required,min=6"`
}

// Email はメールアドレス単体の入力。
type Email struct {
	Email string `json:"email" validate:"required,email"`
}

// NewApprentice は講師が見習いを追加するときの入力。
type NewApprentice struct {
	Name           string `json:"name" validate:"notblank,max=255"`
	Email          string `json:"email" validate:"required,email"`
	EmploymentType string `json:"employmentType" validate:"omitempty,oneof=full-time part-time contractor"`
}

// Review は提出物レビューの入力。
type Review struct {
	Status string `json:"status" validate:"review_status"`
	Notes  string `json:"notes" validate:"max=5000"`
}

// DeepLink はオリエンテーション用ディープリンクのクエリ。
type DeepLink struct {
	Email     string `json:"email" validate:"required,email"`
	Professor string `json:"professor" validate:"required,email"`
	Name      string `json:"name" validate:"max=255"`
	Token     string `json:"token" validate:"required,hexadecimal,max=128"`
}

// OrientationSubmission はオリエンテーション提出の入力。
type OrientationSubmission struct {
	OperatingSystem string   `json:"operatingSystem" validate:"notblank,max=100"`
	CompletedTasks  []string `json:"completedTasks" validate:"max=50,dive,notblank,max=500"`
	ScreenshotCount int      `json:"screenshots" validate:"min=1,max=10"`
}
