package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/driftcert/internal/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleService(id, group string) *models.Service {
	return &models.Service{
		ServiceID:    id,
		DisplayName:  id,
		RepoURL:      "https://forge.local/" + id + ".git",
		MainBranch:   "main",
		Environments: []string{"prod", "staging"},
		ConfigPaths:  []string{"src/main/resources/**"},
		Group:        group,
	}
}

func TestUpsertAndGetService(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	svc := sampleService("payments-api", "payments")
	require.NoError(t, s.UpsertService(ctx, svc))

	got, err := s.GetService(ctx, "payments-api")
	require.NoError(t, err)
	assert.Equal(t, "payments-api", got.ServiceID)
	assert.Equal(t, []string{"prod", "staging"}, got.Environments)
	assert.Equal(t, []string{"src/main/resources/**"}, got.ConfigPaths)
	assert.True(t, got.Active)

	// Upsert updates in place.
	svc.MainBranch = "master"
	require.NoError(t, s.UpsertService(ctx, svc))
	got, err = s.GetService(ctx, "payments-api")
	require.NoError(t, err)
	assert.Equal(t, "master", got.MainBranch)
}

func TestGetServiceNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetService(context.Background(), "ghost")
	assert.ErrorContains(t, err, "not found")
}

func TestListServicesAndGroups(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertService(ctx, sampleService("a-svc", "alpha")))
	require.NoError(t, s.UpsertService(ctx, sampleService("b-svc", "beta")))
	require.NoError(t, s.UpsertService(ctx, sampleService("c-svc", "beta")))

	all, err := s.ListServices(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, groups)
}

func TestDeactivateGroup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertService(ctx, sampleService("a-svc", "alpha")))
	require.NoError(t, s.UpsertService(ctx, sampleService("b-svc", "beta")))

	affected, err := s.DeactivateGroup(ctx, "alpha")
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	active, err := s.ListServices(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b-svc", active[0].ServiceID)

	// Upserting a deactivated service reactivates it.
	require.NoError(t, s.UpsertService(ctx, sampleService("a-svc", "alpha")))
	total, activeCount, err := s.CountServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, activeCount)
}

func TestSetActiveGoldenBranchKeepsSingleActive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertService(ctx, sampleService("svc", "grp")))

	first := &models.GoldenBranch{
		ServiceID:   "svc",
		Environment: "prod",
		BranchName:  "golden_prod_20260101_000000_aaaaaa",
		BranchType:  models.BranchGolden,
	}
	require.NoError(t, s.SetActiveGoldenBranch(ctx, first))

	score := 92.5
	second := &models.GoldenBranch{
		ServiceID:          "svc",
		Environment:        "prod",
		BranchName:         "golden_prod_20260201_000000_bbbbbb",
		BranchType:         models.BranchGolden,
		CertificationScore: &score,
		Metadata:           map[string]string{"run_id": "r1"},
	}
	require.NoError(t, s.SetActiveGoldenBranch(ctx, second))

	active, err := s.GetActiveGoldenBranch(ctx, "svc", "prod")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.BranchName, active.BranchName)
	require.NotNil(t, active.CertificationScore)
	assert.Equal(t, 92.5, *active.CertificationScore)
	assert.Equal(t, "r1", active.Metadata["run_id"])

	// A different environment is untouched.
	other, err := s.GetActiveGoldenBranch(ctx, "svc", "staging")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestHasActiveGolden(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertService(ctx, sampleService("svc", "grp")))

	require.NoError(t, s.SetActiveGoldenBranch(ctx, &models.GoldenBranch{
		ServiceID: "svc", Environment: "prod", BranchName: "g1", BranchType: models.BranchGolden,
	}))

	ok, err := s.HasActiveGolden(ctx, "svc", []string{"prod"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasActiveGolden(ctx, "svc", []string{"prod", "staging"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordDriftBranchDoesNotTouchActive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertService(ctx, sampleService("svc", "grp")))
	require.NoError(t, s.SetActiveGoldenBranch(ctx, &models.GoldenBranch{
		ServiceID: "svc", Environment: "prod", BranchName: "g1", BranchType: models.BranchGolden,
	}))

	require.NoError(t, s.RecordDriftBranch(ctx, &models.GoldenBranch{
		ServiceID: "svc", Environment: "prod", BranchName: "drift_prod_x", BranchType: models.BranchDrift,
	}))

	active, err := s.GetActiveGoldenBranch(ctx, "svc", "prod")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "g1", active.BranchName)
}

func TestRunLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	run := &models.ValidationRun{
		RunID:       "run-1",
		ServiceID:   "svc",
		Environment: "prod",
		Status:      models.RunPending,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", models.RunDrift, ""))
	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunDrift, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", models.RunFailed, "forge unreachable"))
	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, "forge unreachable", got.Error)
	assert.NotNil(t, got.CompletedAt)
}

func testBundle(runID string) *models.ContextBundle {
	return &models.ContextBundle{
		Meta: models.BundleMeta{RunID: runID, ServiceID: "svc", Environment: "prod"},
		Deltas: []models.Delta{
			{
				ID:       "cfg~application.yml.server.port",
				Category: models.CategoryConfig,
				File:     "application.yml",
				Locator:  models.Locator{Type: models.LocatorKeypath, Value: "server.port"},
				Old:      models.StrPtr("8080"),
				New:      models.StrPtr("9090"),
			},
		},
		Overview: models.Overview{TotalDeltas: 1},
	}
}

func TestSaveAndLoadContextBundle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, &models.ValidationRun{
		RunID: "run-1", ServiceID: "svc", Environment: "prod",
		Status: models.RunDrift, StartedAt: time.Now().UTC(),
	}))

	require.NoError(t, s.SaveContextBundle(ctx, "run-1", testBundle("run-1")))

	got, err := s.GetLatestContextBundle(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got.Deltas, 1)
	assert.Equal(t, "cfg~application.yml.server.port", got.Deltas[0].ID)
	assert.Equal(t, "9090", models.StrOrEmpty(got.Deltas[0].New))
}

func TestUpdateContextBundleDeltasReadYourWrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, &models.ValidationRun{
		RunID: "run-1", ServiceID: "svc", Environment: "prod",
		Status: models.RunDrift, StartedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.SaveContextBundle(ctx, "run-1", testBundle("run-1")))

	redacted := testBundle("run-1").Deltas
	redacted[0].New = models.StrPtr("[REDACTED_PASSWORD]")
	redacted[0].PIIRedacted = true
	require.NoError(t, s.UpdateContextBundleDeltas(ctx, "run-1", redacted))

	got, err := s.GetLatestContextBundle(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got.Deltas, 1)
	assert.Equal(t, "[REDACTED_PASSWORD]", models.StrOrEmpty(got.Deltas[0].New))
	assert.True(t, got.Deltas[0].PIIRedacted)
	assert.Equal(t, 1, got.Overview.TotalDeltas)
}

func TestUpdateContextBundleDeltasMissingRun(t *testing.T) {
	s := newStore(t)
	err := s.UpdateContextBundleDeltas(context.Background(), "absent", nil)
	assert.ErrorContains(t, err, "no context bundle")
}

func TestStageArtefactRoundTrips(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, &models.ValidationRun{
		RunID: "run-1", ServiceID: "svc", Environment: "prod",
		Status: models.RunTriage, StartedAt: time.Now().UTC(),
	}))

	pv := &models.PolicyValidation{RunID: "run-1", AllowedVariance: 2}
	require.NoError(t, s.SavePolicyValidation(ctx, "run-1", pv))
	gotPV, err := s.GetLatestPolicyValidation(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, gotPV.AllowedVariance)

	out := &models.LLMOutput{Fallback: true}
	require.NoError(t, s.SaveLLMOutput(ctx, "run-1", out))
	gotOut, err := s.GetLatestLLMOutput(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, gotOut.Fallback)

	cert := &models.Certification{RunID: "run-1", ConfidenceScore: 85, Decision: models.DecisionAutoMerge}
	require.NoError(t, s.SaveCertification(ctx, "run-1", cert))
	gotCert, err := s.GetLatestCertification(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAutoMerge, gotCert.Decision)
	assert.InDelta(t, 85, gotCert.ConfidenceScore, 0.001)
}

func TestSyncState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	val, err := s.GetSyncValue(ctx, "roster_hash")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetSyncValue(ctx, "roster_hash", "abc123"))
	require.NoError(t, s.SetSyncValue(ctx, "roster_hash", "def456"))

	val, err = s.GetSyncValue(ctx, "roster_hash")
	require.NoError(t, err)
	assert.Equal(t, "def456", val)
}
