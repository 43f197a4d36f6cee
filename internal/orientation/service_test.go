package orientation

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/notify"
)

// --- モック定義 ---

type mockApprentices struct{}

func (mockApprentices) FindByToken(_ context.Context, token string) (*model.Apprentice, error) {
	if token == "abc123" {
		return &model.Apprentice{Name: "Jane Doe", Email: "jane@example.com", ProfessorEmail: "prof@example.com", DashboardToken: token}, nil
	}
	return nil, nil
}

type mockSubmissions struct {
	created  []*model.Submission
	progress model.ProgressStatus
	err      error
}

func (m *mockSubmissions) CreateWithProgress(_ context.Context, s *model.Submission, status model.ProgressStatus) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, s)
	m.progress = status
	return nil
}

type memBucket struct {
	objects map[string]string
}

func (b *memBucket) Upload(_ context.Context, p string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[p] = string(data)
	return nil
}

func (b *memBucket) PublicURL(p string) string {
	return "https://academy.example.com/storage/submissions/" + p
}

type mockNotifier struct {
	sent []notify.OrientationNotification
}

func (m *mockNotifier) NotifyOrientationAsync(_ context.Context, n notify.OrientationNotification) {
	m.sent = append(m.sent, n)
}

func link() DeepLink {
	return DeepLink{Email: "jane@example.com", Professor: "prof@example.com", Name: "Jane Doe", Token: "abc123"}
}

func newTestService() (*Service, *mockSubmissions, *memBucket, *mockNotifier) {
	subs := &mockSubmissions{}
	bucket := &memBucket{objects: map[string]string{}}
	notifier := &mockNotifier{}
	return NewService(mockApprentices{}, subs, bucket, notifier, nil), subs, bucket, notifier
}

func validSubmission() Submission {
	return Submission{
		OperatingSystem: "Windows 11",
		CompletedTasks:  []string{"Installed Zoom"},
		Screenshots: []Screenshot{
			{ContentType: "image/png", Body: strings.NewReader("one")},
			{ContentType: "image/jpeg", Body: strings.NewReader("two")},
		},
	}
}

// --- テスト ---

func TestParseDeepLink(t *testing.T) {
	q := url.Values{}
	q.Set("email", "jane@example.com")
	q.Set("professor", "prof@example.com")
	q.Set("name", "Jane Doe")
	q.Set("token", "abc123")

	got, err := ParseDeepLink(q)
	if err != nil {
		t.Fatalf("ParseDeepLink failed: %v", err)
	}
	if got != link() {
		t.Errorf("link = %+v", got)
	}

	q.Del("token")
	_, err = ParseDeepLink(q)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidDeepLink {
		t.Fatalf("error = %v, want INVALID_DEEP_LINK", err)
	}
}

func TestContext_RejectsMismatchedEmail(t *testing.T) {
	svc, _, _, _ := newTestService()
	l := link()
	l.Email = "someone-else@example.com"

	_, err := svc.Context(context.Background(), l)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidDeepLink {
		t.Fatalf("error = %v, want INVALID_DEEP_LINK", err)
	}
}

func TestContext_ReturnsOrientationModule(t *testing.T) {
	svc, _, _, _ := newTestService()
	c, err := svc.Context(context.Background(), link())
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if c.Module != "Orientation" || c.ProfessorEmail != "prof@example.com" {
		t.Errorf("context = %+v", c)
	}
}

func TestSubmit_UploadsCreatesAndNotifies(t *testing.T) {
	svc, subs, bucket, notifier := newTestService()

	sub, err := svc.Submit(context.Background(), link(), validSubmission())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(bucket.objects) != 2 {
		t.Errorf("uploaded objects = %d, want 2", len(bucket.objects))
	}
	if len(sub.ScreenshotURLs) != 2 || !strings.HasSuffix(sub.ScreenshotURLs[1], "/2.jpg") {
		t.Errorf("screenshot urls = %v", sub.ScreenshotURLs)
	}
	if sub.Status != model.SubmissionPending || sub.Module != "Orientation" || sub.Phase != model.Phase1 {
		t.Errorf("submission = %+v", sub)
	}
	if subs.progress != model.StatusInProgress {
		t.Errorf("progress = %q, want In Progress", subs.progress)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.sent))
	}
	n := notifier.sent[0]
	if n.ScreenshotCount != 2 || n.ProfessorEmail != "prof@example.com" || n.CompletedTasks != `["Installed Zoom"]` {
		t.Errorf("notification = %+v", n)
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
	}{
		{"no screenshots", func(s *Submission) { s.Screenshots = nil }},
		{"blank operating system", func(s *Submission) { s.OperatingSystem = "  " }},
		{"blank task", func(s *Submission) { s.CompletedTasks = []string{""} }},
		{"not an image", func(s *Submission) { s.Screenshots[0].ContentType = "application/pdf" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, subs, bucket, _ := newTestService()
			in := validSubmission()
			tt.mutate(&in)

			_, err := svc.Submit(context.Background(), link(), in)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
				t.Fatalf("error = %v, want VALIDATION_FAILED", err)
			}
			if len(subs.created) != 0 || len(bucket.objects) != 0 {
				t.Error("nothing must be stored for invalid input")
			}
		})
	}
}

func TestSubmit_StoreFailureDoesNotNotify(t *testing.T) {
	svc, subs, _, notifier := newTestService()
	subs.err = errors.New("connection reset")

	if _, err := svc.Submit(context.Background(), link(), validSubmission()); err == nil {
		t.Fatal("expected error")
	}
	if len(notifier.sent) != 0 {
		t.Error("notification must not be sent when the submission was not saved")
	}
}
