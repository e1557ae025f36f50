package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/catherinevee/driftcert/internal/drift"
	"github.com/catherinevee/driftcert/internal/forge"
	"github.com/catherinevee/driftcert/internal/guardrail"
	"github.com/catherinevee/driftcert/internal/llm"
	"github.com/catherinevee/driftcert/internal/logger"
	"github.com/catherinevee/driftcert/internal/metrics"
	"github.com/catherinevee/driftcert/internal/models"
	"github.com/catherinevee/driftcert/internal/policy"
	"github.com/catherinevee/driftcert/internal/scorer"
	"github.com/catherinevee/driftcert/internal/store"
	"github.com/catherinevee/driftcert/internal/triage"
)

// RunContext bundles the shared collaborators a pipeline run needs
type RunContext struct {
	Store    *store.Store
	Forge    forge.Client
	LLM      llm.Client
	Policies *policy.Config
	TempRoot string
}

// Orchestrator drives the staged pipeline for one (service, environment).
// Stages run strictly in order; the first failure terminates the run with
// its artefacts left in place.
type Orchestrator struct {
	log       logger.Logger
	rc        RunContext
	drift     *drift.Engine
	guardrail *guardrail.Engine
	triage    *triage.Engine
}

func New(rc RunContext) *Orchestrator {
	return &Orchestrator{
		log:       logger.New("orchestrator"),
		rc:        rc,
		drift:     drift.NewEngine(rc.Policies),
		guardrail: guardrail.NewEngine(rc.Store, rc.Policies),
		triage:    triage.NewEngine(rc.Store, rc.LLM),
	}
}

// Run executes one full validation run and returns the certification
func (o *Orchestrator) Run(ctx context.Context, serviceID, environment string) (*models.Certification, error) {
	svc, err := o.rc.Store.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("unknown service %s: %w", serviceID, err)
	}
	if !envListed(svc, environment) {
		return nil, fmt.Errorf("service %s is not configured for environment %s", serviceID, environment)
	}

	runID := ulid.Make().String()
	run := &models.ValidationRun{
		RunID:       runID,
		ServiceID:   serviceID,
		Environment: environment,
		Status:      models.RunPending,
		StartedAt:   time.Now().UTC(),
	}
	if err := o.rc.Store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	o.log.Info("run started",
		logger.String("run_id", runID),
		logger.String("service_id", serviceID),
		logger.String("environment", environment))

	cert, result := o.pipeline(ctx, runID, svc, environment)
	if !result.OK() {
		metrics.RunFailures.WithLabelValues(result.Stage).Inc()
		_ = o.rc.Store.UpdateRunStatus(ctx, runID, models.RunFailed, result.Failure.Error())
		o.log.Error("run failed",
			logger.String("run_id", runID),
			logger.String("stage", result.Stage),
			logger.String("kind", string(result.Failure.Kind)),
			logger.String("message", result.Failure.Message))
		return nil, fmt.Errorf("run %s failed at %s: %w", runID, result.Stage, result.Failure)
	}

	metrics.RunsTotal.WithLabelValues(string(cert.Decision)).Inc()
	if err := o.rc.Store.UpdateRunStatus(ctx, runID, models.RunCompleted, ""); err != nil {
		return cert, err
	}
	o.log.Info("run completed",
		logger.String("run_id", runID),
		logger.String("decision", string(cert.Decision)),
		logger.Any("score", cert.ConfidenceScore))
	return cert, nil
}

func (o *Orchestrator) pipeline(ctx context.Context, runID string, svc *models.Service, environment string) (*models.Certification, Result) {
	// Snapshot: baseline + drift branches, both trees on disk.
	stageStart := time.Now()
	_ = o.rc.Store.UpdateRunStatus(ctx, runID, models.RunSnapshot, "")

	golden, err := o.ensureGolden(ctx, svc, environment)
	if err != nil {
		return nil, failure("snapshot", classify(err), err)
	}
	driftBranch, err := o.createDriftBranch(ctx, svc, environment)
	if err != nil {
		return nil, failure("snapshot", classify(err), err)
	}

	goldenTree, err := o.rc.Forge.SparseCheckout(ctx, svc.RepoURL, golden.BranchName, nil, "")
	if err != nil {
		return nil, failure("snapshot", classify(err), err)
	}
	defer o.rc.Forge.Cleanup(goldenTree)

	driftTree, err := o.rc.Forge.SparseCheckout(ctx, svc.RepoURL, driftBranch, nil, "")
	if err != nil {
		return nil, failure("snapshot", classify(err), err)
	}
	defer o.rc.Forge.Cleanup(driftTree)
	metrics.StageDuration.WithLabelValues("snapshot").Observe(time.Since(stageStart).Seconds())

	// Drift analysis.
	stageStart = time.Now()
	_ = o.rc.Store.UpdateRunStatus(ctx, runID, models.RunDrift, "")
	meta := models.BundleMeta{
		RunID:        runID,
		ServiceID:    svc.ServiceID,
		Environment:  environment,
		GoldenBranch: golden.BranchName,
		DriftBranch:  driftBranch,
		GeneratedAt:  time.Now().UTC(),
	}
	bundle, err := o.drift.Analyze(ctx, meta, goldenTree.Dir, driftTree.Dir)
	if err != nil {
		return nil, failure("drift", classify(err), err)
	}
	if err := o.rc.Store.SaveContextBundle(ctx, runID, bundle); err != nil {
		return nil, failure("drift", FailFatal, err)
	}
	metrics.DeltasPerRun.Observe(float64(len(bundle.Deltas)))
	metrics.StageDuration.WithLabelValues("drift").Observe(time.Since(stageStart).Seconds())

	// Guardrail: redaction must land in the store before triage reads.
	stageStart = time.Now()
	_ = o.rc.Store.UpdateRunStatus(ctx, runID, models.RunGuardrail, "")
	pv, err := o.guardrail.Run(ctx, runID)
	if err != nil {
		return nil, failure("guardrail", classify(err), err)
	}
	metrics.StageDuration.WithLabelValues("guardrail").Observe(time.Since(stageStart).Seconds())

	// Triage.
	stageStart = time.Now()
	_ = o.rc.Store.UpdateRunStatus(ctx, runID, models.RunTriage, "")
	output, err := o.triage.Run(ctx, runID)
	if err != nil {
		return nil, failure("triage", classify(err), err)
	}
	metrics.StageDuration.WithLabelValues("triage").Observe(time.Since(stageStart).Seconds())

	// Certify.
	stageStart = time.Now()
	_ = o.rc.Store.UpdateRunStatus(ctx, runID, models.RunCertify, "")
	// Evidence stays nil until an MR-quality signal is actually collected;
	// absent optional inputs contribute a zero adjustment.
	cert := scorer.Compute(scorer.Input{
		RunID:       runID,
		Environment: environment,
		Output:      output,
		Policy:      pv,
		Blast:       blastRadius(bundle, pv),
	})

	if cert.Decision == models.DecisionAutoMerge {
		snapshot, err := o.certifySnapshot(ctx, svc, environment, driftBranch, cert.ConfidenceScore)
		if err != nil {
			return nil, failure("certify", classify(err), err)
		}
		cert.CertifiedSnapshotBranch = snapshot
	}

	if err := o.rc.Store.SaveCertification(ctx, runID, cert); err != nil {
		return nil, failure("certify", FailFatal, err)
	}
	report := &models.Report{
		RunID:       runID,
		ServiceID:   svc.ServiceID,
		Environment: environment,
		Overview:    bundle.Overview,
		Summary:     output.Summary,
		Decision:    cert.Decision,
		Score:       cert.ConfidenceScore,
	}
	if err := o.rc.Store.SaveReport(ctx, runID, report); err != nil {
		return nil, failure("certify", FailFatal, err)
	}
	if err := o.rc.Store.BumpAggregatedResult(ctx, svc.ServiceID, environment, cert.Decision); err != nil {
		return nil, failure("certify", FailFatal, err)
	}
	metrics.StageDuration.WithLabelValues("certify").Observe(time.Since(stageStart).Seconds())

	return cert, success("certify")
}

// ensureGolden reuses the active golden branch for the environment or
// builds one from main when none exists.
func (o *Orchestrator) ensureGolden(ctx context.Context, svc *models.Service, environment string) (*models.GoldenBranch, error) {
	golden, err := o.rc.Store.GetActiveGoldenBranch(ctx, svc.ServiceID, environment)
	if err != nil {
		return nil, err
	}
	if golden != nil {
		return golden, nil
	}

	name := forge.BranchName(models.BranchGolden, environment)
	if err := o.rc.Forge.CreateOrphanBranch(ctx, svc.RepoURL, svc.MainBranch, name, svc.ConfigPaths, environment); err != nil {
		return nil, fmt.Errorf("failed to create golden branch: %w", err)
	}
	golden = &models.GoldenBranch{
		ServiceID:   svc.ServiceID,
		Environment: environment,
		BranchName:  name,
		BranchType:  models.BranchGolden,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.rc.Store.SetActiveGoldenBranch(ctx, golden); err != nil {
		return nil, err
	}
	return golden, nil
}

// createDriftBranch snapshots the current main into a drift branch with the
// same filters the golden side uses.
func (o *Orchestrator) createDriftBranch(ctx context.Context, svc *models.Service, environment string) (string, error) {
	name := forge.BranchName(models.BranchDrift, environment)
	if err := o.rc.Forge.CreateOrphanBranch(ctx, svc.RepoURL, svc.MainBranch, name, svc.ConfigPaths, environment); err != nil {
		return "", fmt.Errorf("failed to create drift branch: %w", err)
	}
	gb := &models.GoldenBranch{
		ServiceID:   svc.ServiceID,
		Environment: environment,
		BranchName:  name,
		BranchType:  models.BranchDrift,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.rc.Store.RecordDriftBranch(ctx, gb); err != nil {
		return "", err
	}
	return name, nil
}

// certifySnapshot promotes the accepted drift snapshot to the new active
// golden baseline.
func (o *Orchestrator) certifySnapshot(ctx context.Context, svc *models.Service, environment, driftBranch string, score float64) (string, error) {
	name := forge.BranchName(models.BranchGolden, environment)
	if err := o.rc.Forge.CreateOrphanBranch(ctx, svc.RepoURL, driftBranch, name, svc.ConfigPaths, environment); err != nil {
		return "", fmt.Errorf("failed to create certified snapshot: %w", err)
	}
	gb := &models.GoldenBranch{
		ServiceID:          svc.ServiceID,
		Environment:        environment,
		BranchName:         name,
		BranchType:         models.BranchGolden,
		IsActive:           true,
		CertificationScore: &score,
		CreatedAt:          time.Now().UTC(),
	}
	if err := o.rc.Store.SetActiveGoldenBranch(ctx, gb); err != nil {
		return "", err
	}
	return name, nil
}

// blastRadius estimates change scope from the bundle and guardrail output
func blastRadius(bundle *models.ContextBundle, pv *models.PolicyValidation) *scorer.BlastRadius {
	filesChanged := bundle.Overview.AddedFiles + bundle.Overview.RemovedFiles + bundle.Overview.ModifiedFiles

	criticalFiles := make(map[string]bool)
	highDeltas := 0
	for _, d := range bundle.Deltas {
		if d.RiskLevel == models.RiskHigh {
			highDeltas++
			criticalFiles[d.File] = true
		}
	}

	scope := "low"
	switch {
	case pv != nil && pv.CriticalIntent:
		scope = "critical"
	case highDeltas > 0:
		scope = "high"
	case len(bundle.Deltas) > 10:
		scope = "medium"
	}

	return &scorer.BlastRadius{
		Scope:         scope,
		FilesChanged:  filesChanged,
		CriticalFiles: len(criticalFiles),
	}
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return FailCancelled
	case errors.Is(err, forge.ErrAuth) || errors.Is(err, forge.ErrPermission):
		return FailAuth
	case errors.Is(err, forge.ErrNotFound):
		return FailNotFound
	default:
		var te *llm.TransportError
		if errors.As(err, &te) {
			return FailLLM
		}
		return FailFatal
	}
}

func envListed(svc *models.Service, environment string) bool {
	for _, env := range svc.Environments {
		if env == environment {
			return true
		}
	}
	return false
}
