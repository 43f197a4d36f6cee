package model

import "time"

// ProgressStatus はモジュールの進捗状態。
type ProgressStatus string

const (
	StatusNotStarted ProgressStatus = "Not Started"
	StatusInProgress ProgressStatus = "In Progress"
	StatusCompleted  ProgressStatus = "Completed"
)

// Rank は重複行の統合で使う進捗の順位を返す。大きいほど進んでいる。
func (s ProgressStatus) Rank() int {
	switch s {
	case StatusCompleted:
		return 2
	case StatusInProgress:
		return 1
	default:
		return 0
	}
}

// SubmissionStatus は提出物のレビュー状態。
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "Pending"
	SubmissionApproved  SubmissionStatus = "Approved"
	SubmissionNeedsWork SubmissionStatus = "Needs Work"
)

// Valid は既知のレビュー状態かを返す。
func (s SubmissionStatus) Valid() bool {
	return s == SubmissionPending || s == SubmissionApproved || s == SubmissionNeedsWork
}

// Phase はカリキュラムのフェーズ名。
type Phase string

const (
	Phase1 Phase = "Phase 1"
	Phase2 Phase = "Phase 2"
)

// ChecklistField はオリエンテーション前チェックリストの項目名。
type ChecklistField string

const (
	ChecklistComputer ChecklistField = "has_computer"
	ChecklistWebcam   ChecklistField = "has_webcam"
	ChecklistHeadset  ChecklistField = "has_headset"
	ChecklistInternet ChecklistField = "has_internet"
	ChecklistGmail    ChecklistField = "has_gmail"
	ChecklistHandbook ChecklistField = "read_handbook"
)

// ChecklistFields は全チェックリスト項目を表示順に返す。
func ChecklistFields() []ChecklistField {
	return []ChecklistField{
		ChecklistComputer,
		ChecklistWebcam,
		ChecklistHeadset,
		ChecklistInternet,
		ChecklistGmail,
		ChecklistHandbook,
	}
}

// Apprentice は見習い講師のレコード。DashboardTokenがダッシュボードへのケイパビリティ。
type Apprentice struct {
	ID             string
	Name           string
	Email          string
	ProfessorEmail string
	EmploymentType string
	DashboardToken string
	// Checklist は項目名から保存された番兵文字列（"checked" など）への写像。
	Checklist map[ChecklistField]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProgressItem は見習いごとのモジュール進捗行。
type ProgressItem struct {
	ID              string         `json:"id"`
	ApprenticeEmail string         `json:"apprentice_email"`
	Phase           Phase          `json:"phase"`
	Module          string         `json:"module"`
	Status          ProgressStatus `json:"status"`
	SubmissionID    *string        `json:"submission_id"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Submission は見習いの提出物。
type Submission struct {
	ID              string           `json:"id"`
	ApprenticeEmail string           `json:"apprentice_email"`
	ApprenticeName  string           `json:"apprentice_name"`
	ProfessorEmail  string           `json:"professor_email"`
	Phase           Phase            `json:"phase"`
	Module          string           `json:"module"`
	Status          SubmissionStatus `json:"status"`
	OperatingSystem string           `json:"operating_system"`
	CompletedTasks  []string         `json:"completed_tasks"`
	ScreenshotURLs  []string         `json:"screenshot_urls"`
	ProfessorNotes  *string          `json:"professor_notes"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	ReviewedAt      *time.Time       `json:"reviewed_at"`
}

// ModuleKey はカリキュラム上のモジュールを一意に識別する (phase, module) の組。
type ModuleKey struct {
	Phase  Phase  `json:"phase" yaml:"phase"`
	Module string `json:"module" yaml:"module"`
}

// Key は進捗行のモジュールキーを返す。
func (p *ProgressItem) Key() ModuleKey {
	return ModuleKey{Phase: p.Phase, Module: p.Module}
}
