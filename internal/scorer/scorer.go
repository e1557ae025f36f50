package scorer

import (
	"fmt"
	"strings"

	"github.com/catherinevee/driftcert/internal/models"
)

// BlastRadius is the change-scope estimate fed to the scorer
type BlastRadius struct {
	Scope         string // low, medium, high, critical
	FilesChanged  int
	CriticalFiles int
}

// History summarises past run outcomes for the service. A missing history
// contributes a zero adjustment.
type History struct {
	OutageHistory bool
	PastFailures  int
	PastSuccesses int
	TrustScore    float64 // 0..1
}

// Safety carries the LLM-derived safety and anomaly estimates
type Safety struct {
	SafetyScore  float64 // 0..1
	AnomalyScore float64 // 0..1
}

// ContextQuality scores the change-request context around the drift
type ContextQuality struct {
	HasTags            bool
	HasTicketLink      bool
	HasRollbackPlan    bool
	HasTestEvidence    bool
	DescriptionQuality string // high, medium, low
}

// Evidence marks whether every pipeline artefact needed to judge the run
// is present.
type Evidence struct {
	Complete bool
}

// Input is everything the scorer consumes. Output and Policy are required;
// the estimates are optional and contribute nothing when nil.
type Input struct {
	RunID       string
	Environment string
	Output      *models.LLMOutput
	Policy      *models.PolicyValidation
	Blast       *BlastRadius
	History     *History
	Safety      *Safety
	Context     *ContextQuality
	Evidence    *Evidence
}

// Compute derives the certification from the triaged output and estimates.
// The function is pure: same input, same certification.
func Compute(in Input) *models.Certification {
	components := models.ScoreComponents{
		PolicyDeduction:    policyDeduction(in.Policy),
		RiskDeduction:      riskDeduction(in),
		BlastRadiusPenalty: blastPenalty(in.Blast),
		HistoryAdjustment:  historyAdjustment(in.History),
		LLMSafety:          safetyAdjustment(in.Safety),
		ContextBonus:       contextBonus(in.Context),
		EvidenceAdjustment: evidenceAdjustment(in.Evidence),
	}

	score := 100.0 +
		components.PolicyDeduction +
		components.RiskDeduction +
		components.BlastRadiusPenalty +
		components.HistoryAdjustment +
		components.LLMSafety +
		components.ContextBonus +
		components.EvidenceAdjustment
	score = clip(score, 0, 100)

	critical, high, medium, _ := riskCounts(in)
	blocked := critical+high+medium > 0

	decision := decide(score, in.Environment, blocked)

	return &models.Certification{
		RunID:           in.RunID,
		ConfidenceScore: score,
		ConfidenceLevel: confidenceLevel(score),
		Decision:        decision,
		Components:      components,
		Explanation:     explain(score, components, decision, blocked, critical, high, medium),
	}
}

func policyDeduction(pv *models.PolicyValidation) float64 {
	if pv == nil {
		return 0
	}
	total := 0.0
	for sev, count := range pv.ViolationsBySev {
		switch sev {
		case models.SeverityCritical:
			total -= 30 * float64(count)
		case models.SeverityHigh:
			total -= 15 * float64(count)
		case models.SeverityMedium:
			total -= 5 * float64(count)
		}
	}
	return total
}

// riskCounts folds the triage buckets and the intent-guard verdict into
// (critical, high, medium, low).
func riskCounts(in Input) (critical, high, medium, low int) {
	if in.Output != nil {
		high = len(in.Output.High)
		medium = len(in.Output.Medium)
		low = len(in.Output.Low)
	}
	if in.Policy != nil && in.Policy.CriticalIntent {
		critical++
	}
	return critical, high, medium, low
}

func riskDeduction(in Input) float64 {
	critical, high, medium, low := riskCounts(in)
	switch {
	case critical > 0:
		return -80
	case high > 0:
		return -60
	case medium > 0:
		return -55
	case low > 0:
		d := 2.0 * float64(low)
		if d > 60 {
			d = 60
		}
		return -d
	}
	return 0
}

func blastPenalty(b *BlastRadius) float64 {
	if b == nil {
		return 0
	}
	penalty := 0.0
	switch strings.ToLower(b.Scope) {
	case "critical":
		penalty += 30
	case "high":
		penalty += 25
	case "medium":
		penalty += 15
	case "low":
		penalty += 5
	}
	if b.FilesChanged > 5 {
		penalty += 10
	} else if b.FilesChanged > 3 {
		penalty += 5
	}
	penalty += 5 * float64(b.CriticalFiles)
	if penalty > 50 {
		penalty = 50
	}
	return -penalty
}

func historyAdjustment(h *History) float64 {
	if h == nil {
		return 0
	}
	adj := 0.0
	if h.OutageHistory {
		adj -= 20
	} else if h.PastFailures > 0 {
		d := 5.0 * float64(h.PastFailures)
		if d > 15 {
			d = 15
		}
		adj -= d
	}
	if h.PastSuccesses > 5 && h.PastFailures == 0 {
		adj += 10
	}
	if h.TrustScore > 0 && h.TrustScore < 0.3 {
		adj -= 10
	} else if h.TrustScore > 0.8 {
		adj += 10
	}
	return clip(adj, -20, 10)
}

func safetyAdjustment(s *Safety) float64 {
	if s == nil {
		return 0
	}
	adj := 0.0
	switch {
	case s.SafetyScore < 0.3:
		adj -= 20
	case s.SafetyScore < 0.5:
		adj -= 10
	case s.SafetyScore > 0.8:
		adj += 15
	case s.SafetyScore > 0.6:
		adj += 5
	}
	switch {
	case s.AnomalyScore > 0.7:
		adj -= 15
	case s.AnomalyScore > 0.5:
		adj -= 10
	case s.AnomalyScore > 0.3:
		adj -= 5
	}
	return clip(adj, -20, 15)
}

func contextBonus(c *ContextQuality) float64 {
	if c == nil {
		return 0
	}
	bonus := 0.0
	if c.HasTags {
		bonus += 5
	}
	if c.HasTicketLink {
		bonus += 5
	}
	if c.HasRollbackPlan {
		bonus += 10
	}
	if c.HasTestEvidence {
		bonus += 5
	}
	switch strings.ToLower(c.DescriptionQuality) {
	case "high":
		bonus += 5
	case "medium":
		bonus += 2
	}
	if bonus > 25 {
		bonus = 25
	}
	return bonus
}

func evidenceAdjustment(e *Evidence) float64 {
	if e == nil {
		return 0
	}
	if e.Complete {
		return 20
	}
	return -20
}

// decide maps the score to a verdict per the environment's thresholds.
// Any non-low risk count forces BLOCK_MERGE irrespective of score.
func decide(score float64, environment string, blocked bool) models.Decision {
	if blocked {
		return models.DecisionBlockMerge
	}

	autoAt, reviewAt := 65.0, 50.0
	switch strings.ToLower(environment) {
	case "prod", "production":
		autoAt, reviewAt = 85, 60
	case "staging", "preprod", "pre-production":
		autoAt, reviewAt = 75, 50
	}

	switch {
	case score >= autoAt:
		return models.DecisionAutoMerge
	case score >= reviewAt:
		return models.DecisionHumanReview
	default:
		return models.DecisionBlockMerge
	}
}

func confidenceLevel(score float64) models.ConfidenceLevel {
	switch {
	case score >= 80:
		return models.ConfidenceHigh
	case score >= 60:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func explain(score float64, c models.ScoreComponents, decision models.Decision, blocked bool, critical, high, medium int) string {
	var parts []string
	add := func(name string, v float64) {
		if v != 0 {
			parts = append(parts, fmt.Sprintf("%s %+.1f", name, v))
		}
	}
	add("policy", c.PolicyDeduction)
	add("risk", c.RiskDeduction)
	add("blast radius", c.BlastRadiusPenalty)
	add("history", c.HistoryAdjustment)
	add("llm safety", c.LLMSafety)
	add("context", c.ContextBonus)
	add("evidence", c.EvidenceAdjustment)

	explanation := fmt.Sprintf("score %.1f (%s)", score, decision)
	if len(parts) > 0 {
		explanation += ": " + strings.Join(parts, ", ")
	}
	if blocked {
		explanation += fmt.Sprintf("; blocked by risk counts (critical=%d high=%d medium=%d)", critical, high, medium)
	}
	return explanation
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
