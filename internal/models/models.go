package models

import "time"

// RunStatus tracks a validation run through the pipeline
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunSnapshot  RunStatus = "snapshot"
	RunDrift     RunStatus = "drift"
	RunGuardrail RunStatus = "guardrail"
	RunTriage    RunStatus = "triage"
	RunCertify   RunStatus = "certify"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failure"
)

// BranchType distinguishes certified baselines from point-in-time snapshots
type BranchType string

const (
	BranchGolden BranchType = "golden"
	BranchDrift  BranchType = "drift"
)

// Service is one fleet member: a repository on the forge validated per environment
type Service struct {
	ServiceID    string    `json:"service_id"`
	DisplayName  string    `json:"display_name"`
	RepoURL      string    `json:"repo_url"`
	MainBranch   string    `json:"main_branch"`
	Environments []string  `json:"environments"`
	ConfigPaths  []string  `json:"config_paths"`
	Group        string    `json:"group"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GoldenBranch records a baseline or drift branch for a (service, environment)
type GoldenBranch struct {
	ID                 int64             `json:"id"`
	ServiceID          string            `json:"service_id"`
	Environment        string            `json:"environment"`
	BranchName         string            `json:"branch_name"`
	BranchType         BranchType        `json:"branch_type"`
	IsActive           bool              `json:"is_active"`
	CertificationScore *float64          `json:"certification_score,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// ValidationRun is one pass of the pipeline for a (service, environment)
type ValidationRun struct {
	RunID       string     `json:"run_id"`
	ServiceID   string     `json:"service_id"`
	Environment string     `json:"environment"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Project is a repository enumerated from the forge
type Project struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	PathWithNS    string `json:"path_with_namespace"`
	HTTPURLToRepo string `json:"http_url_to_repo"`
	DefaultBranch string `json:"default_branch"`
	Archived      bool   `json:"archived"`
}
