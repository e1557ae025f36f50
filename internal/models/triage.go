package models

// Remediation is the suggested fix attached to a triaged delta
type Remediation struct {
	Snippet string `json:"snippet"`
}

// AIReviewAssistant carries reviewer-facing guidance from the categoriser
type AIReviewAssistant struct {
	PotentialRisk   string `json:"potential_risk"`
	SuggestedAction string `json:"suggested_action"`
}

// TriagedDelta is one categorised delta summary in an LLM output bucket
type TriagedDelta struct {
	ID                string             `json:"id"`
	File              string             `json:"file"`
	Locator           string             `json:"locator"`
	Old               *string            `json:"old"`
	New               *string            `json:"new"`
	Why               string             `json:"why,omitempty"`
	Rationale         string             `json:"rationale,omitempty"`
	Remediation       *Remediation       `json:"remediation,omitempty"`
	AIReviewAssistant *AIReviewAssistant `json:"ai_review_assistant,omitempty"`
}

// TriageSummary aggregates bucket counts for the run
type TriageSummary struct {
	TotalDrifts      int `json:"total_drifts"`
	HighRisk         int `json:"high_risk"`
	MediumRisk       int `json:"medium_risk"`
	LowRisk          int `json:"low_risk"`
	AllowedVariance  int `json:"allowed_variance"`
	FilesWithDrift   int `json:"files_with_drift"`
	TotalConfigFiles int `json:"total_config_files"`
}

// LLMOutput is the four-bucket categorisation produced by the triage stage
type LLMOutput struct {
	High            []TriagedDelta `json:"high"`
	Medium          []TriagedDelta `json:"medium"`
	Low             []TriagedDelta `json:"low"`
	AllowedVariance []TriagedDelta `json:"allowed_variance"`
	Summary         TriageSummary  `json:"summary"`
	Fallback        bool           `json:"fallback,omitempty"`
}

// PIIFinding records one redaction performed by the guardrail stage
type PIIFinding struct {
	DeltaID string `json:"delta_id"`
	Type    string `json:"type"`
	Field   string `json:"field"`
}

// IntentFinding records one malicious-pattern hit
type IntentFinding struct {
	DeltaID  string   `json:"delta_id"`
	Pattern  string   `json:"pattern"`
	Severity Severity `json:"severity"`
}

// PolicyValidation is the guardrail-stage output: sanitised deltas plus reports
type PolicyValidation struct {
	RunID            string           `json:"run_id"`
	Deltas           []Delta          `json:"deltas"`
	PIIFindings      []PIIFinding     `json:"pii_findings"`
	IntentFindings   []IntentFinding  `json:"intent_findings"`
	ViolationsBySev  map[Severity]int `json:"violations_by_severity"`
	InvariantBreach  int              `json:"invariant_breaches"`
	AllowedVariance  int              `json:"allowed_variances"`
	CriticalIntent   bool             `json:"critical_intent"`
	MaxIntentSeverity Severity        `json:"max_intent_severity"`
}
