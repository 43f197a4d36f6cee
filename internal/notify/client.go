package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/academy/internal/metrics"
	"github.com/hitoshi/academy/internal/model"
)

// maxErrorBody はエラー応答から読み取る最大バイト数。
const maxErrorBody = 4 << 10

// ProgressSummary は通知に含める進捗の概要。
type ProgressSummary struct {
	SubmissionID    string               `json:"submissionId"`
	ApprenticeName  string               `json:"apprenticeName"`
	ApprenticeEmail string               `json:"apprenticeEmail"`
	Phase           model.Phase          `json:"phase"`
	Module          string               `json:"module"`
	Status          model.ProgressStatus `json:"status"`
}

// OrientationNotification はオリエンテーション提出時の通知ペイロード。
// CompletedTasksはJSONエンコードされた文字列配列。
type OrientationNotification struct {
	Progress        ProgressSummary `json:"progress"`
	OperatingSystem string          `json:"operatingSystem"`
	CompletedTasks  string          `json:"completedTasks"`
	ScreenshotCount int             `json:"screenshotCount"`
	SubmittedAt     string          `json:"submittedAt"`
	ProfessorEmail  string          `json:"professorEmail"`
}

// NewOrientationNotification は提出物から通知ペイロードを組み立てる。
func NewOrientationNotification(sub *model.Submission, progress model.ProgressStatus) (OrientationNotification, error) {
	tasks := sub.CompletedTasks
	if tasks == nil {
		tasks = []string{}
	}
	encoded, err := json.Marshal(tasks)
	if err != nil {
		return OrientationNotification{}, fmt.Errorf("failed to encode completed tasks: %w", err)
	}
	return OrientationNotification{
		Progress: ProgressSummary{
			SubmissionID:    sub.ID,
			ApprenticeName:  sub.ApprenticeName,
			ApprenticeEmail: sub.ApprenticeEmail,
			Phase:           sub.Phase,
			Module:          sub.Module,
			Status:          progress,
		},
		OperatingSystem: sub.OperatingSystem,
		CompletedTasks:  string(encoded),
		ScreenshotCount: len(sub.ScreenshotURLs),
		SubmittedAt:     sub.SubmittedAt.UTC().Format(time.RFC3339),
		ProfessorEmail:  sub.ProfessorEmail,
	}, nil
}

// Client は通知用エンドポイントへペイロードを送る。
type Client struct {
	endpoint string
	secret   string
	http     *http.Client
	timeout  time.Duration
	metrics  metrics.MetricsCollector
	logger   *slog.Logger

	pending sync.WaitGroup
}

// NewClient はClientを生成する。endpointが空なら通知は送られない。
func NewClient(endpoint string, httpClient *http.Client, timeout time.Duration, m metrics.MetricsCollector, logger *slog.Logger) *Client {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
	}
}

// WithSecret は通知リクエストにBearerトークンとして付ける共有シークレットを設定する。
func (c *Client) WithSecret(secret string) *Client {
	c.secret = secret
	return c
}

// NotifyOrientation は通知を送信し、2xx以外の応答をエラーとして返す。
func (c *Client) NotifyOrientation(ctx context.Context, n OrientationNotification) error {
	if c.endpoint == "" {
		c.logger.Debug("notification endpoint not configured; skipping")
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("notification endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// NotifyOrientationAsync は完了を待たずに通知を送る。失敗はログとメトリクスに残すのみ。
func (c *Client) NotifyOrientationAsync(ctx context.Context, n OrientationNotification) {
	ctx = context.WithoutCancel(ctx)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := c.NotifyOrientation(ctx, n); err != nil {
			c.metrics.RecordNotificationFailure()
			c.logger.Error("orientation notification failed",
				slog.String("submission_id", n.Progress.SubmissionID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait は送信中の通知の完了を待つ。
func (c *Client) Wait() {
	c.pending.Wait()
}
