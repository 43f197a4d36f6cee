// Package orientation はディープリンクから始まるオリエンテーション提出を扱う。
// ディープリンクに必要な情報が含まれるため、プロフィールの取得を待たずに実行できる。
package orientation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/academy/internal/curriculum"
	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/notify"
	"github.com/hitoshi/academy/internal/storage"
	"github.com/hitoshi/academy/internal/validate"
)

// ApprenticeFinder はトークンから見習いを解決する。
type ApprenticeFinder interface {
	FindByToken(ctx context.Context, token string) (*model.Apprentice, error)
}

// SubmissionCreator は提出物と進捗行を作成する。
type SubmissionCreator interface {
	CreateWithProgress(ctx context.Context, submission *model.Submission, progressStatus model.ProgressStatus) error
}

// Notifier はオリエンテーション提出の通知を非同期に送る。
type Notifier interface {
	NotifyOrientationAsync(ctx context.Context, n notify.OrientationNotification)
}

// DeepLink は /orientation?email=&professor=&name=&token= のクエリ。
type DeepLink struct {
	Email     string `json:"email"`
	Professor string `json:"professor"`
	Name      string `json:"name"`
	Token     string `json:"token"`
}

// ParseDeepLink はクエリからDeepLinkを取り出して検証する。
func ParseDeepLink(q url.Values) (DeepLink, error) {
	link := DeepLink{
		Email:     strings.TrimSpace(q.Get("email")),
		Professor: strings.TrimSpace(q.Get("professor")),
		Name:      strings.TrimSpace(q.Get("name")),
		Token:     strings.TrimSpace(q.Get("token")),
	}
	if err := validate.Struct(validate.DeepLink(link)); err != nil {
		return DeepLink{}, model.NewInvalidDeepLinkError(err.Message)
	}
	return link, nil
}

// Screenshot はアップロードされたスクリーンショット1枚。
type Screenshot struct {
	ContentType string
	Body        io.Reader
}

// Submission はオリエンテーション提出の入力。
type Submission struct {
	OperatingSystem string
	CompletedTasks  []string
	Screenshots     []Screenshot
}

// Context はオリエンテーション画面の表示に使う情報。
type Context struct {
	ApprenticeName  string      `json:"apprenticeName"`
	ApprenticeEmail string      `json:"apprenticeEmail"`
	ProfessorEmail  string      `json:"professorEmail"`
	Phase           model.Phase `json:"phase"`
	Module          string      `json:"module"`
	DashboardToken  string      `json:"dashboardToken"`
}

// Service はオリエンテーションの提出を処理する。
type Service struct {
	apprentices ApprenticeFinder
	submissions SubmissionCreator
	bucket      storage.Bucket
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(apprentices ApprenticeFinder, submissions SubmissionCreator, bucket storage.Bucket, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		apprentices: apprentices,
		submissions: submissions,
		bucket:      bucket,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// Resolve はディープリンクのトークンが同じメールアドレスの見習いを指すことを確かめる。
func (s *Service) Resolve(ctx context.Context, link DeepLink) (*model.Apprentice, error) {
	a, err := s.apprentices.FindByToken(ctx, link.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to find apprentice: %w", err)
	}
	if a == nil || !strings.EqualFold(a.Email, link.Email) {
		return nil, model.NewInvalidDeepLinkError("link does not match an apprentice")
	}
	return a, nil
}

// Context はディープリンクに対応する画面情報を返す。
func (s *Service) Context(ctx context.Context, link DeepLink) (*Context, error) {
	a, err := s.Resolve(ctx, link)
	if err != nil {
		return nil, err
	}
	return &Context{
		ApprenticeName:  a.Name,
		ApprenticeEmail: a.Email,
		ProfessorEmail:  a.ProfessorEmail,
		Phase:           model.Phase1,
		Module:          curriculum.OrientationModule,
		DashboardToken:  a.DashboardToken,
	}, nil
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Submit はスクリーンショットを保存し、提出物を作成してオリエンテーションを In Progress にする。
// 講師への通知は完了を待たずに送る。
func (s *Service) Submit(ctx context.Context, link DeepLink, in Submission) (*model.Submission, error) {
	if err := validate.Struct(validate.OrientationSubmission{
		OperatingSystem: in.OperatingSystem,
		CompletedTasks:  in.CompletedTasks,
		ScreenshotCount: len(in.Screenshots),
	}); err != nil {
		return nil, err
	}
	for i, shot := range in.Screenshots {
		if _, ok := imageExtensions[shot.ContentType]; !ok {
			return nil, model.NewValidationError(fmt.Sprintf("screenshot %d must be a PNG, JPEG, GIF or WebP image", i+1))
		}
	}

	a, err := s.Resolve(ctx, link)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	urls := make([]string, 0, len(in.Screenshots))
	for i, shot := range in.Screenshots {
		objectPath := fmt.Sprintf("%s/orientation/%s/%d%s", a.Email, id, i+1, imageExtensions[shot.ContentType])
		if err := s.bucket.Upload(ctx, objectPath, shot.Body); err != nil {
			return nil, fmt.Errorf("failed to upload screenshot: %w", err)
		}
		urls = append(urls, s.bucket.PublicURL(objectPath))
	}

	sub := &model.Submission{
		ID:              id,
		ApprenticeEmail: a.Email,
		ApprenticeName:  a.Name,
		ProfessorEmail:  a.ProfessorEmail,
		Phase:           model.Phase1,
		Module:          curriculum.OrientationModule,
		Status:          model.SubmissionPending,
		OperatingSystem: strings.TrimSpace(in.OperatingSystem),
		CompletedTasks:  in.CompletedTasks,
		ScreenshotURLs:  urls,
		SubmittedAt:     s.now().UTC(),
	}
	if err := s.submissions.CreateWithProgress(ctx, sub, model.StatusInProgress); err != nil {
		return nil, fmt.Errorf("failed to save submission: %w", err)
	}
	s.logger.Info("orientation submitted",
		slog.String("submission_id", sub.ID),
		slog.String("apprentice_email", sub.ApprenticeEmail),
		slog.Int("screenshots", len(urls)),
	)

	n, err := notify.NewOrientationNotification(sub, model.StatusInProgress)
	if err != nil {
		s.logger.Error("failed to build notification", slog.String("error", err.Error()))
		return sub, nil
	}
	s.notifier.NotifyOrientationAsync(ctx, n)
	return sub, nil
}
