package dashboard

import (
	"github.com/hitoshi/academy/internal/curriculum"
	"github.com/hitoshi/academy/internal/model"
)

// Dashboard は見習いダッシュボードの表示データ。
type Dashboard struct {
	Apprentice          ApprenticeInfo  `json:"apprentice"`
	Checklist           []ChecklistItem `json:"checklist"`
	Modules             []Module        `json:"modules"`
	CompletedModules    int             `json:"completedModules"`
	TotalModules        int             `json:"totalModules"`
	OverallPercent      int             `json:"overallPercent"`
	OrientationComplete bool            `json:"orientationComplete"`
	Phase2              Gate            `json:"phase2"`
}

// ApprenticeInfo はダッシュボードに表示する見習いの情報。
type ApprenticeInfo struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	ProfessorEmail string `json:"professorEmail"`
	EmploymentType string `json:"employmentType,omitempty"`
}

// ChecklistItem はチェックリスト1項目。
type ChecklistItem struct {
	Field   model.ChecklistField `json:"field"`
	Checked bool                 `json:"checked"`
}

// Module はモジュール1つ分の進捗。
type Module struct {
	Phase      model.Phase          `json:"phase"`
	Name       string               `json:"name"`
	Status     model.ProgressStatus `json:"status"`
	Submission *model.Submission    `json:"submission,omitempty"`
}

// build は統合済みの進捗行と提出物からDashboardを導出する。
// フェーズ2はいずれかのフェーズ2行が存在すれば開放済みとし、開放前は進捗率の分母に含めない。
func (a *Assembler) build(
	apprentice *model.Apprentice,
	rows map[model.ModuleKey]*model.ProgressItem,
	submissions map[string]*model.Submission,
) *Dashboard {
	d := &Dashboard{
		Apprentice: ApprenticeInfo{
			Name:           apprentice.Name,
			Email:          apprentice.Email,
			ProfessorEmail: apprentice.ProfessorEmail,
			EmploymentType: apprentice.EmploymentType,
		},
		Phase2: GateLocked,
	}

	checklist := DecodeChecklist(apprentice.Checklist)
	for _, f := range model.ChecklistFields() {
		d.Checklist = append(d.Checklist, ChecklistItem{Field: f, Checked: checklist[f]})
	}

	for k := range rows {
		if k.Phase == model.Phase2 {
			d.Phase2 = GateUnlocked
			break
		}
	}

	for _, k := range a.curriculum.All() {
		if k.Phase == model.Phase2 && d.Phase2 == GateLocked {
			continue
		}
		m := Module{Phase: k.Phase, Name: k.Module, Status: model.StatusNotStarted}
		if r, ok := rows[k]; ok {
			m.Status = r.Status
			if r.SubmissionID != nil {
				m.Submission = submissions[*r.SubmissionID]
			}
		}
		if m.Status == model.StatusCompleted {
			d.CompletedModules++
		}
		if k.Phase == model.Phase1 && k.Module == curriculum.OrientationModule {
			d.OrientationComplete = m.Status == model.StatusCompleted
		}
		d.Modules = append(d.Modules, m)
	}

	d.TotalModules = len(d.Modules)
	d.OverallPercent = Percent(d.CompletedModules, d.TotalModules)
	return d
}
