package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- モック定義 ---

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type execCall struct {
	query string
	args  []any
}

// mockExecutor はExecutorのモック実装。呼び出しを記録する。
type mockExecutor struct {
	mu     sync.Mutex
	calls  []execCall
	rows   int64
	err    error
	failOn string
}

func (m *mockExecutor) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, execCall{query: query, args: args})
	if m.err != nil && (m.failOn == "" || strings.Contains(query, m.failOn)) {
		return nil, m.err
	}
	return &fakeResult{rowsAffected: m.rows}, nil
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// findLogField はJSONログから指定キーを持つ最初のエントリの値を返す。
func findLogField(buf *bytes.Buffer, key string) (any, bool) {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// --- テスト ---

func TestNewCleanupJob_Defaults(t *testing.T) {
	job := NewCleanupJob(&mockExecutor{}, nil)
	if job.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", job.RetentionDays)
	}
}

func TestCleanupJob_Run_DeletesExpiredSessionsAndResets(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{rows: 2}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(mock.calls) != 2 {
		t.Fatalf("ExecContext calls = %d, want 2", len(mock.calls))
	}
	if !strings.Contains(mock.calls[0].query, "DELETE FROM sessions") || len(mock.calls[0].args) != 0 {
		t.Errorf("sessions call = %+v", mock.calls[0])
	}
	if !strings.Contains(mock.calls[1].query, "DELETE FROM password_resets") {
		t.Errorf("password_resets call = %+v", mock.calls[1])
	}
	if got, _ := mock.calls[1].args[0].(string); got != "7 days" {
		t.Errorf("interval引数 = %q, want %q", got, "7 days")
	}

	if v, ok := findLogField(&buf, "deleted_count"); !ok || v != float64(4) {
		t.Errorf("deleted_count = %v, want 4. ログ出力: %s", v, buf.String())
	}
	if _, ok := findLogField(&buf, "duration_ms"); !ok {
		t.Errorf("ログに duration_ms が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_CustomRetentionDays(t *testing.T) {
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&bytes.Buffer{}))
	job.RetentionDays = 30

	_ = job.Run(context.Background())

	if got, _ := mock.calls[1].args[0].(string); got != "30 days" {
		t.Errorf("interval引数 = %q, want %q", got, "30 days")
	}
}

func TestCleanupJob_Run_StopsOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{err: sql.ErrConnDone, failOn: "sessions"}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sessions") || !strings.Contains(err.Error(), "connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("calls after failure = %d, want 1", len(mock.calls))
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
	if v, ok := findLogField(&buf, "deleted_count"); !ok || v != float64(0) {
		t.Errorf("0件削除時にもログに deleted_count=0 が記録されるべき。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Start(ctx, time.Hour)
	}()

	deadline := time.After(2 * time.Second)
	for mock.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("initial run did not happen")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
