package models

// Decision is the final certification verdict
type Decision string

const (
	DecisionAutoMerge   Decision = "AUTO_MERGE"
	DecisionHumanReview Decision = "HUMAN_REVIEW"
	DecisionBlockMerge  Decision = "BLOCK_MERGE"
)

// ConfidenceLevel buckets the final score for display
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

// ScoreComponents breaks the final score into its parts
type ScoreComponents struct {
	PolicyDeduction    float64 `json:"policy_deduction"`
	RiskDeduction      float64 `json:"risk_deduction"`
	BlastRadiusPenalty float64 `json:"blast_radius_penalty"`
	HistoryAdjustment  float64 `json:"history_adjustment"`
	LLMSafety          float64 `json:"llm_safety"`
	ContextBonus       float64 `json:"context_bonus"`
	EvidenceAdjustment float64 `json:"evidence_adjustment"`
}

// Certification is the final pipeline output for a run
type Certification struct {
	RunID                   string          `json:"run_id"`
	ConfidenceScore         float64         `json:"confidence_score"`
	ConfidenceLevel         ConfidenceLevel `json:"confidence_level"`
	Decision                Decision        `json:"decision"`
	Components              ScoreComponents `json:"components"`
	Explanation             string          `json:"explanation"`
	CertifiedSnapshotBranch string          `json:"certified_snapshot_branch,omitempty"`
}

// Report is the compact per-run summary persisted after certification
type Report struct {
	RunID       string        `json:"run_id"`
	ServiceID   string        `json:"service_id"`
	Environment string        `json:"environment"`
	Overview    Overview      `json:"overview"`
	Summary     TriageSummary `json:"summary"`
	Decision    Decision      `json:"decision"`
	Score       float64       `json:"score"`
}
