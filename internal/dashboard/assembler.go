// Package dashboard は見習いのダッシュボード表示データを組み立てる。
//
// ダッシュボードはURLのトークンだけで開けるため、ログインを必要としない。
// 組み立ての流れ:
//  1. トークンから見習いを解決する（なければ DASHBOARD_NOT_FOUND）
//  2. チェックリストの番兵文字列を真偽値に変換する
//  3. 欠けているフェーズ1の進捗行を Not Started で補う（ビューごとに1回）
//  4. 進捗行を読み、同一モジュールの重複行を1行に統合する
//  5. 参照されている提出物を1回の問い合わせでまとめて取得する
//  6. 進捗率・オリエンテーション完了・フェーズ2の開放状態を導出する
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/academy/internal/curriculum"
	"github.com/hitoshi/academy/internal/metrics"
	"github.com/hitoshi/academy/internal/model"
)

// ApprenticeStore は見習いレコードの読み書き。
type ApprenticeStore interface {
	FindByToken(ctx context.Context, token string) (*model.Apprentice, error)
	UpdateChecklistField(ctx context.Context, token string, field model.ChecklistField, value string) error
}

// ProgressStore は進捗行の読み書き。
type ProgressStore interface {
	ListByApprentice(ctx context.Context, apprenticeEmail string) ([]*model.ProgressItem, error)
	InsertMissing(ctx context.Context, apprenticeEmail string, keys []model.ModuleKey) (int, error)
}

// SubmissionStore は提出物の一括取得。
type SubmissionStore interface {
	FindByIDs(ctx context.Context, ids []string) ([]*model.Submission, error)
}

// Gate はフェーズ2の開放状態。
type Gate string

const (
	GateLocked   Gate = "locked"
	GateUnlocked Gate = "unlocked"
)

// writeTimeout はチェックリストの非同期書き込みの上限時間。
const writeTimeout = 15 * time.Second

// Assembler はダッシュボードの組み立てとチェックリスト書き込みを行う。
type Assembler struct {
	apprentices ApprenticeStore
	progress    ProgressStore
	submissions SubmissionStore
	curriculum  *curriculum.Curriculum
	metrics     metrics.MetricsCollector
	logger      *slog.Logger

	writes sync.WaitGroup
}

// NewAssembler はAssemblerを生成する。
func NewAssembler(
	apprentices ApprenticeStore,
	progress ProgressStore,
	submissions SubmissionStore,
	curr *curriculum.Curriculum,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Assembler {
	if curr == nil {
		curr = curriculum.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		apprentices: apprentices,
		progress:    progress,
		submissions: submissions,
		curriculum:  curr,
		metrics:     m,
		logger:      logger,
	}
}

// View は1つのダッシュボード表示。補完処理はビューの生存中に1回だけ成功すればよい。
type View struct {
	assembler *Assembler
	token     string

	mu         sync.Mutex
	reconciled bool
}

// Open はトークンに対するビューを返す。
func (a *Assembler) Open(token string) *View {
	return &View{assembler: a, token: token}
}

// Token はビューのダッシュボードトークンを返す。
func (v *View) Token() string {
	return v.token
}

// Load はダッシュボードを組み立てる。
func (v *View) Load(ctx context.Context) (*Dashboard, error) {
	a := v.assembler
	start := time.Now()
	defer func() {
		a.metrics.RecordDashboardLatency(time.Since(start))
	}()

	apprentice, err := a.apprentices.FindByToken(ctx, v.token)
	if err != nil {
		return nil, fmt.Errorf("failed to find apprentice: %w", err)
	}
	if apprentice == nil {
		return nil, model.NewDashboardNotFoundError()
	}

	v.reconcile(ctx, apprentice.Email)

	rows, err := a.progress.ListByApprentice(ctx, apprentice.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	collapsed := Collapse(rows, a.curriculum)

	submissions, err := a.loadSubmissions(ctx, collapsed)
	if err != nil {
		return nil, err
	}

	return a.build(apprentice, collapsed, submissions), nil
}

// reconcile は欠けているフェーズ1の進捗行を補う。失敗してもダッシュボードの表示は続ける。
func (v *View) reconcile(ctx context.Context, email string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.reconciled {
		return
	}

	a := v.assembler
	n, err := a.progress.InsertMissing(ctx, email, a.curriculum.Phase(model.Phase1))
	if err != nil {
		a.logger.Warn("failed to reconcile progress rows",
			slog.String("apprentice_email", email),
			slog.String("error", err.Error()),
		)
		return
	}
	v.reconciled = true
	if n > 0 {
		a.logger.Info("progress rows reconciled",
			slog.String("apprentice_email", email),
			slog.Int("inserted", n),
		)
	}
}

func (a *Assembler) loadSubmissions(ctx context.Context, rows map[model.ModuleKey]*model.ProgressItem) (map[string]*model.Submission, error) {
	var ids []string
	for _, r := range rows {
		if r.SubmissionID != nil {
			ids = append(ids, *r.SubmissionID)
		}
	}
	byID := make(map[string]*model.Submission, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}

	subs, err := a.submissions.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}
	for _, s := range subs {
		byID[s.ID] = s
	}
	return byID, nil
}

// Collapse はカリキュラムにある行だけを残し、同一モジュールの重複行を1行にまとめる。
// 進捗の進んだ行が優先され、同順位なら提出物IDを持つ行が優先される。
func Collapse(rows []*model.ProgressItem, curr *curriculum.Curriculum) map[model.ModuleKey]*model.ProgressItem {
	best := make(map[model.ModuleKey]*model.ProgressItem)
	for _, r := range rows {
		k := r.Key()
		if !curr.Contains(k) {
			continue
		}
		cur, ok := best[k]
		if !ok || outranks(r, cur) {
			best[k] = r
		}
	}
	return best
}

func outranks(a, b *model.ProgressItem) bool {
	if a.Status.Rank() != b.Status.Rank() {
		return a.Status.Rank() > b.Status.Rank()
	}
	return a.SubmissionID != nil && b.SubmissionID == nil
}

// Percent は完了率を四捨五入した整数で返す。totalが0なら0。
func Percent(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// DecodeChecklist は保存された番兵文字列を真偽値に変換する。
// "checked" のみが真。ただしGmail項目は "unchecked" 以外なら真とする。
func DecodeChecklist(raw map[model.ChecklistField]string) map[model.ChecklistField]bool {
	out := make(map[model.ChecklistField]bool, len(model.ChecklistFields()))
	for _, f := range model.ChecklistFields() {
		v := raw[f]
		if f == model.ChecklistGmail {
			out[f] = v != "unchecked"
		} else {
			out[f] = v == "checked"
		}
	}
	return out
}

// EncodeChecklistValue は真偽値を保存用の番兵文字列に変換する。
func EncodeChecklistValue(checked bool) string {
	if checked {
		return "checked"
	}
	return "unchecked"
}

// UpdateChecklist はチェックリストの1項目を非同期に書き込む。
// 書き込みの完了は待たず、失敗はログに残すのみで再試行しない。
func (a *Assembler) UpdateChecklist(ctx context.Context, token string, field model.ChecklistField, checked bool) error {
	if !validField(field) {
		return model.NewValidationError(fmt.Sprintf("unknown checklist field %q", field))
	}

	ctx = context.WithoutCancel(ctx)
	value := EncodeChecklistValue(checked)
	a.writes.Add(1)
	go func() {
		defer a.writes.Done()
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := a.apprentices.UpdateChecklistField(ctx, token, field, value); err != nil {
			a.logger.Error("failed to update checklist",
				slog.String("field", string(field)),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Wait は実行中のチェックリスト書き込みの完了を待つ。
func (a *Assembler) Wait() {
	a.writes.Wait()
}

// UnlockPhase2 はフェーズ2の進捗行を作成する。何度呼んでも結果は同じで、取り消しはできない。
// professorEmailが空でなければ、その講師の見習いである場合に限る。
func (a *Assembler) UnlockPhase2(ctx context.Context, token, professorEmail string) (*model.Apprentice, error) {
	apprentice, err := a.apprentices.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find apprentice: %w", err)
	}
	if apprentice == nil {
		return nil, model.NewDashboardNotFoundError()
	}
	if professorEmail != "" && !strings.EqualFold(apprentice.ProfessorEmail, professorEmail) {
		return nil, model.NewForbiddenError()
	}

	n, err := a.progress.InsertMissing(ctx, apprentice.Email, a.curriculum.Phase(model.Phase2))
	if err != nil {
		return nil, fmt.Errorf("failed to unlock phase 2: %w", err)
	}
	a.logger.Info("phase 2 unlocked",
		slog.String("apprentice_email", apprentice.Email),
		slog.Int("inserted", n),
	)
	return apprentice, nil
}

func validField(f model.ChecklistField) bool {
	for _, known := range model.ChecklistFields() {
		if f == known {
			return true
		}
	}
	return false
}
