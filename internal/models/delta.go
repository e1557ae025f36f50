package models

// DeltaCategory classifies what kind of change a delta describes
type DeltaCategory string

const (
	CategoryConfig          DeltaCategory = "config"
	CategoryDependency      DeltaCategory = "dependency"
	CategoryBuildConfig     DeltaCategory = "build_config"
	CategorySpringProfile   DeltaCategory = "spring_profile"
	CategoryJenkins         DeltaCategory = "jenkins"
	CategoryContainer       DeltaCategory = "container"
	CategoryCodeHunk        DeltaCategory = "code_hunk"
	CategoryFile            DeltaCategory = "file"
	CategoryBinaryMeta      DeltaCategory = "binary_meta"
	CategoryArchiveDelta    DeltaCategory = "archive_delta"
	CategoryArchiveManifest DeltaCategory = "archive_manifest"
	CategoryOther           DeltaCategory = "other"
)

// LocatorType identifies how a locator addresses a change
type LocatorType string

const (
	LocatorKeypath  LocatorType = "keypath"
	LocatorYAMLPath LocatorType = "yamlpath"
	LocatorJSONPath LocatorType = "jsonpath"
	LocatorUnidiff  LocatorType = "unidiff"
	LocatorCoord    LocatorType = "coord"
	LocatorPath     LocatorType = "path"
)

// RiskLevel is the heuristic pre-triage risk hint
type RiskLevel string

const (
	RiskHigh RiskLevel = "high"
	RiskMed  RiskLevel = "med"
	RiskLow  RiskLevel = "low"
)

// PolicyTag classifies a delta against declared policy
type PolicyTag string

const (
	TagInvariantBreach PolicyTag = "invariant_breach"
	TagAllowedVariance PolicyTag = "allowed_variance"
	TagSuspect         PolicyTag = "suspect"
)

// Severity grades policy and intent findings
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Locator pins a delta to an exact position. Unidiff locators carry hunk
// coordinates; keypath locators may carry the source line of the leaf key.
type Locator struct {
	Type       LocatorType `json:"type"`
	Value      string      `json:"value"`
	LineStart  int         `json:"line_start,omitempty"`
	OldStart   int         `json:"old_start,omitempty"`
	OldLines   int         `json:"old_lines,omitempty"`
	NewStart   int         `json:"new_start,omitempty"`
	NewLines   int         `json:"new_lines,omitempty"`
	HunkHeader string      `json:"hunk_header,omitempty"`
}

// PolicyInfo is the declarative policy annotation on a delta
type PolicyInfo struct {
	Tag       PolicyTag `json:"tag"`
	Rule      string    `json:"rule,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
	Violation bool      `json:"violation,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// IntentGuard is the malicious-pattern scan result attached by the guardrail stage
type IntentGuard struct {
	Suspicious       bool     `json:"suspicious"`
	PatternsDetected []string `json:"patterns_detected,omitempty"`
	Severity         Severity `json:"severity"`
}

// Delta is the atomic unit of drift flowing through the pipeline.
// Old and New are nil for pure additions/removals; hunks and archive
// entries carry their structured body in Snippet/Metadata instead.
type Delta struct {
	ID          string                 `json:"id"`
	Category    DeltaCategory          `json:"category"`
	File        string                 `json:"file"`
	Locator     Locator                `json:"locator"`
	Old         *string                `json:"old"`
	New         *string                `json:"new"`
	Snippet     string                 `json:"snippet,omitempty"`
	RiskLevel   RiskLevel              `json:"risk_level"`
	RiskReason  string                 `json:"risk_reason,omitempty"`
	Policy      *PolicyInfo            `json:"policy,omitempty"`
	PIIRedacted bool                   `json:"pii_redacted"`
	PIITypes    []string               `json:"pii_types,omitempty"`
	IntentGuard *IntentGuard           `json:"intent_guard,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StrPtr is a convenience for the nullable old/new fields
func StrPtr(s string) *string { return &s }

// StrOrEmpty dereferences a nullable value
func StrOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
