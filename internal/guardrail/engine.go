package guardrail

import (
	"context"
	"fmt"

	"github.com/catherinevee/driftcert/internal/logger"
	"github.com/catherinevee/driftcert/internal/models"
	"github.com/catherinevee/driftcert/internal/policy"
	"github.com/catherinevee/driftcert/internal/store"
)

// Engine runs the redaction, intent-scan and policy-validation passes over
// a run's context bundle. The sanitised delta list is written back to the
// store before anything downstream reads it.
type Engine struct {
	log      logger.Logger
	store    *store.Store
	policies *policy.Config
}

func NewEngine(st *store.Store, policies *policy.Config) *Engine {
	return &Engine{
		log:      logger.New("guardrail"),
		store:    st,
		policies: policies,
	}
}

// Run loads the latest bundle for the run, sanitises every delta, persists
// the redacted list back into the bundle, then saves the policy validation.
func (e *Engine) Run(ctx context.Context, runID string) (*models.PolicyValidation, error) {
	bundle, err := e.store.GetLatestContextBundle(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load context bundle: %w", err)
	}
	environment := bundle.Meta.Environment

	pv := &models.PolicyValidation{
		RunID:             runID,
		ViolationsBySev:   make(map[models.Severity]int),
		MaxIntentSeverity: models.SeverityNone,
	}

	deltas := bundle.Deltas
	for i := range deltas {
		delta := &deltas[i]

		for _, piiType := range RedactDelta(delta) {
			pv.PIIFindings = append(pv.PIIFindings, models.PIIFinding{
				DeltaID: delta.ID,
				Type:    piiType,
				Field:   "old/new",
			})
		}

		findings := ScanIntent(delta, environment)
		pv.IntentFindings = append(pv.IntentFindings, findings...)
		if delta.IntentGuard != nil {
			pv.MaxIntentSeverity = maxSeverity(pv.MaxIntentSeverity, delta.IntentGuard.Severity)
			if delta.IntentGuard.Severity == models.SeverityCritical {
				pv.CriticalIntent = true
			}
		}

		e.applyPolicy(delta, environment)
		switch delta.Policy.Tag {
		case models.TagAllowedVariance:
			pv.AllowedVariance++
		case models.TagInvariantBreach:
			pv.InvariantBreach++
			pv.ViolationsBySev[delta.Policy.Severity]++
		}
	}
	pv.Deltas = deltas

	if err := e.store.UpdateContextBundleDeltas(ctx, runID, deltas); err != nil {
		return nil, fmt.Errorf("failed to persist redacted deltas: %w", err)
	}
	if err := e.store.SavePolicyValidation(ctx, runID, pv); err != nil {
		return nil, fmt.Errorf("failed to save policy validation: %w", err)
	}

	e.log.Info("guardrail pass complete",
		logger.String("run_id", runID),
		logger.Int("deltas", len(deltas)),
		logger.Int("pii_findings", len(pv.PIIFindings)),
		logger.Int("intent_findings", len(pv.IntentFindings)),
		logger.Int("invariant_breaches", pv.InvariantBreach))

	return pv, nil
}

// applyPolicy re-evaluates the invariant rules for the run's environment.
// An allowed_variance tag set upstream is preserved.
func (e *Engine) applyPolicy(delta *models.Delta, environment string) {
	if delta.Policy != nil && delta.Policy.Tag == models.TagAllowedVariance {
		return
	}
	if e.policies == nil {
		if delta.Policy == nil {
			delta.Policy = &models.PolicyInfo{Tag: models.TagSuspect}
		}
		return
	}
	info := e.policies.Evaluate(delta, environment)
	delta.Policy = &info
}
