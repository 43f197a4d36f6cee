package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/academy/internal/dashboard"
	"github.com/hitoshi/academy/internal/masquerade"
	"github.com/hitoshi/academy/internal/model"
)

// DashboardServiceAdapter は dashboard.Assembler を DashboardService に適合させるアダプタ。
type DashboardServiceAdapter struct {
	assembler *dashboard.Assembler
}

// NewDashboardServiceAdapter はDashboardServiceAdapterを生成する。
func NewDashboardServiceAdapter(assembler *dashboard.Assembler) *DashboardServiceAdapter {
	return &DashboardServiceAdapter{assembler: assembler}
}

// Open はトークンに対するビューを返す。
func (a *DashboardServiceAdapter) Open(token string) DashboardView {
	return a.assembler.Open(token)
}

// UpdateChecklist はチェックリストの1項目を非同期に書き込む。
func (a *DashboardServiceAdapter) UpdateChecklist(ctx context.Context, token string, field model.ChecklistField, checked bool) error {
	return a.assembler.UpdateChecklist(ctx, token, field, checked)
}

// UnlockPhase2 はフェーズ2を開放する。
func (a *DashboardServiceAdapter) UnlockPhase2(ctx context.Context, token, professorEmail string) (*model.Apprentice, error) {
	return a.assembler.UnlockPhase2(ctx, token, professorEmail)
}

// MasqueradeTargetAdapter は見習いとプロフィールのリポジトリを masquerade.TargetLookup に適合させるアダプタ。
type MasqueradeTargetAdapter struct {
	apprentices ApprenticeFinder
	profiles    ProfileFinder
}

// ApprenticeFinder はメールアドレスで見習いを検索する。
type ApprenticeFinder interface {
	FindByEmail(ctx context.Context, email string) (*model.Apprentice, error)
}

// ProfileFinder はメールアドレスでプロフィールを検索する。
type ProfileFinder interface {
	FindByEmail(ctx context.Context, email string) (*model.Profile, error)
}

// NewMasqueradeTargetAdapter はMasqueradeTargetAdapterを生成する。
func NewMasqueradeTargetAdapter(apprentices ApprenticeFinder, profiles ProfileFinder) *MasqueradeTargetAdapter {
	return &MasqueradeTargetAdapter{apprentices: apprentices, profiles: profiles}
}

func (a *MasqueradeTargetAdapter) FindApprenticeByEmail(ctx context.Context, email string) (*model.Apprentice, error) {
	return a.apprentices.FindByEmail(ctx, email)
}

func (a *MasqueradeTargetAdapter) FindProfileByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return a.profiles.FindByEmail(ctx, email)
}

// HealthChecker はデータベースの疎通確認。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// healthHandler はDBに疎通できれば200、できなければ503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				logRequestError(r, "health check failed", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// --- compile-time interface checks ---

var (
	_ DashboardService = (*DashboardServiceAdapter)(nil)
	_ PhaseUnlocker    = (*DashboardServiceAdapter)(nil)
	_ DashboardView    = (*dashboard.View)(nil)

	_ masquerade.TargetLookup = (*MasqueradeTargetAdapter)(nil)
)
