package scorer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/driftcert/internal/models"
)

func lowItems(n int) []models.TriagedDelta {
	items := make([]models.TriagedDelta, n)
	for i := range items {
		items[i] = models.TriagedDelta{
			ID:      fmt.Sprintf("cfg~a.yml.k%02d", i),
			File:    "a.yml",
			Locator: fmt.Sprintf("k%02d", i),
		}
	}
	return items
}

func baseInput(env string, output *models.LLMOutput) Input {
	return Input{
		RunID:       "run-1",
		Environment: env,
		Output:      output,
		Policy:      &models.PolicyValidation{RunID: "run-1"},
	}
}

func TestComputeEmptyRunIsPerfect(t *testing.T) {
	cert := Compute(baseInput("prod", &models.LLMOutput{}))
	assert.InDelta(t, 100, cert.ConfidenceScore, 0.001)
	assert.Equal(t, models.DecisionAutoMerge, cert.Decision)
	assert.Equal(t, models.ConfidenceHigh, cert.ConfidenceLevel)
}

func TestComputeSingleLowRisk(t *testing.T) {
	cert := Compute(baseInput("prod", &models.LLMOutput{Low: lowItems(1)}))
	assert.InDelta(t, 98, cert.ConfidenceScore, 0.001)
	assert.Equal(t, models.DecisionAutoMerge, cert.Decision)
}

func TestComputeManyLowRisksDev(t *testing.T) {
	cert := Compute(baseInput("dev", &models.LLMOutput{Low: lowItems(20)}))
	assert.InDelta(t, 60, cert.ConfidenceScore, 0.001)
	assert.Equal(t, models.DecisionHumanReview, cert.Decision)
	assert.Equal(t, models.ConfidenceMedium, cert.ConfidenceLevel)
}

func TestComputeLowDeductionIsCapped(t *testing.T) {
	cert := Compute(baseInput("dev", &models.LLMOutput{Low: lowItems(50)}))
	assert.InDelta(t, -60, cert.Components.RiskDeduction, 0.001)
	assert.InDelta(t, 40, cert.ConfidenceScore, 0.001)
}

func TestComputeHighRiskBlocks(t *testing.T) {
	out := &models.LLMOutput{High: []models.TriagedDelta{{ID: "x", File: "a.yml", Locator: "db.password"}}}
	cert := Compute(baseInput("dev", out))
	assert.Equal(t, models.DecisionBlockMerge, cert.Decision)
	assert.InDelta(t, 40, cert.ConfidenceScore, 0.001)
	assert.Contains(t, cert.Explanation, "blocked by risk counts")
}

func TestComputeMediumRiskBlocks(t *testing.T) {
	out := &models.LLMOutput{Medium: []models.TriagedDelta{{ID: "x", File: "a.yml", Locator: "host"}}}
	cert := Compute(baseInput("prod", out))
	assert.Equal(t, models.DecisionBlockMerge, cert.Decision)
}

func TestComputeCriticalIntentBlocks(t *testing.T) {
	in := baseInput("prod", &models.LLMOutput{})
	in.Policy.CriticalIntent = true
	cert := Compute(in)
	assert.Equal(t, models.DecisionBlockMerge, cert.Decision)
	assert.InDelta(t, -80, cert.Components.RiskDeduction, 0.001)
}

func TestComputePolicyDeductions(t *testing.T) {
	in := baseInput("dev", &models.LLMOutput{})
	in.Policy.ViolationsBySev = map[models.Severity]int{
		models.SeverityCritical: 1,
		models.SeverityHigh:     2,
		models.SeverityMedium:   3,
	}
	cert := Compute(in)
	assert.InDelta(t, -75, cert.Components.PolicyDeduction, 0.001)
	assert.InDelta(t, 25, cert.ConfidenceScore, 0.001)
}

func TestComputeScoreNeverNegative(t *testing.T) {
	in := baseInput("prod", &models.LLMOutput{High: lowItems(10)})
	in.Policy.ViolationsBySev = map[models.Severity]int{models.SeverityCritical: 5}
	in.Blast = &BlastRadius{Scope: "critical", FilesChanged: 20, CriticalFiles: 10}
	cert := Compute(in)
	assert.GreaterOrEqual(t, cert.ConfidenceScore, 0.0)
}

func TestEnvironmentThresholds(t *testing.T) {
	cases := []struct {
		env      string
		score    float64
		decision models.Decision
	}{
		{"prod", 86, models.DecisionAutoMerge},
		{"prod", 84, models.DecisionHumanReview},
		{"prod", 59, models.DecisionBlockMerge},
		{"staging", 76, models.DecisionAutoMerge},
		{"staging", 60, models.DecisionHumanReview},
		{"staging", 49, models.DecisionBlockMerge},
		{"dev", 66, models.DecisionAutoMerge},
		{"dev", 55, models.DecisionHumanReview},
		{"dev", 49, models.DecisionBlockMerge},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_%.0f", tc.env, tc.score), func(t *testing.T) {
			assert.Equal(t, tc.decision, decide(tc.score, tc.env, false))
		})
	}
}

func TestBlastPenaltyCapped(t *testing.T) {
	got := blastPenalty(&BlastRadius{Scope: "critical", FilesChanged: 10, CriticalFiles: 8})
	assert.InDelta(t, -50, got, 0.001)
}

func TestHistoryAdjustmentClamped(t *testing.T) {
	assert.InDelta(t, -20, historyAdjustment(&History{OutageHistory: true, TrustScore: 0.1}), 0.001)
	assert.InDelta(t, 10, historyAdjustment(&History{PastSuccesses: 10, TrustScore: 0.9}), 0.001)
	assert.Zero(t, historyAdjustment(nil))
}

func TestSafetyAdjustmentClamped(t *testing.T) {
	assert.InDelta(t, -20, safetyAdjustment(&Safety{SafetyScore: 0.1, AnomalyScore: 0.9}), 0.001)
	assert.InDelta(t, 15, safetyAdjustment(&Safety{SafetyScore: 0.9, AnomalyScore: 0.1}), 0.001)
	assert.Zero(t, safetyAdjustment(nil))
}

func TestContextBonusCapped(t *testing.T) {
	got := contextBonus(&ContextQuality{
		HasTags: true, HasTicketLink: true, HasRollbackPlan: true,
		HasTestEvidence: true, DescriptionQuality: "high",
	})
	assert.InDelta(t, 25, got, 0.001)
	assert.Zero(t, contextBonus(nil))
}

func TestEvidenceAdjustment(t *testing.T) {
	assert.InDelta(t, 20, evidenceAdjustment(&Evidence{Complete: true}), 0.001)
	assert.InDelta(t, -20, evidenceAdjustment(&Evidence{Complete: false}), 0.001)
	assert.Zero(t, evidenceAdjustment(nil))
}

func TestComputeIsDeterministic(t *testing.T) {
	in := baseInput("staging", &models.LLMOutput{Low: lowItems(3)})
	in.Blast = &BlastRadius{Scope: "low", FilesChanged: 2}
	in.Evidence = &Evidence{Complete: true}

	first := Compute(in)
	second := Compute(in)
	require.Equal(t, first, second)
}

func TestComputeMonotoneInLowCount(t *testing.T) {
	prev := 101.0
	for n := 0; n <= 35; n += 5 {
		cert := Compute(baseInput("dev", &models.LLMOutput{Low: lowItems(n)}))
		assert.LessOrEqual(t, cert.ConfidenceScore, prev)
		prev = cert.ConfidenceScore
	}
}
