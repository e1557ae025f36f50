package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/driftcert/internal/forge"
	"github.com/catherinevee/driftcert/internal/llm"
	"github.com/catherinevee/driftcert/internal/models"
	"github.com/catherinevee/driftcert/internal/store"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind FailureKind
	}{
		{"cancelled", context.Canceled, FailCancelled},
		{"deadline", context.DeadlineExceeded, FailCancelled},
		{"auth", fmt.Errorf("wrap: %w", forge.ErrAuth), FailAuth},
		{"permission", forge.ErrPermission, FailAuth},
		{"not found", fmt.Errorf("branch probe: %w", forge.ErrNotFound), FailNotFound},
		{"llm transport", &llm.TransportError{Provider: "anthropic", Err: errors.New("overloaded")}, FailLLM},
		{"anything else", errors.New("disk full"), FailFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, classify(tc.err))
		})
	}
}

func TestEnvListed(t *testing.T) {
	svc := &models.Service{Environments: []string{"prod", "beta1"}}
	assert.True(t, envListed(svc, "prod"))
	assert.True(t, envListed(svc, "beta1"))
	assert.False(t, envListed(svc, "beta2"))
}

func TestResultOK(t *testing.T) {
	assert.True(t, success("drift").OK())
	r := failure("triage", FailLLM, errors.New("overloaded"))
	assert.False(t, r.OK())
	assert.Equal(t, "llm: overloaded", r.Failure.Error())
}

func TestBlastRadius(t *testing.T) {
	bundle := &models.ContextBundle{
		Overview: models.Overview{AddedFiles: 1, ModifiedFiles: 2},
		Deltas: []models.Delta{
			{File: "a.yml", RiskLevel: models.RiskHigh},
			{File: "a.yml", RiskLevel: models.RiskHigh},
			{File: "b.yml", RiskLevel: models.RiskLow},
		},
	}

	b := blastRadius(bundle, &models.PolicyValidation{})
	assert.Equal(t, "high", b.Scope)
	assert.Equal(t, 3, b.FilesChanged)
	assert.Equal(t, 1, b.CriticalFiles)

	b = blastRadius(bundle, &models.PolicyValidation{CriticalIntent: true})
	assert.Equal(t, "critical", b.Scope)

	quiet := &models.ContextBundle{Deltas: []models.Delta{{File: "a.yml", RiskLevel: models.RiskLow}}}
	b = blastRadius(quiet, &models.PolicyValidation{})
	assert.Equal(t, "low", b.Scope)

	var many []models.Delta
	for i := 0; i < 12; i++ {
		many = append(many, models.Delta{File: "a.yml", RiskLevel: models.RiskLow})
	}
	b = blastRadius(&models.ContextBundle{Deltas: many}, &models.PolicyValidation{})
	assert.Equal(t, "medium", b.Scope)
}

// fakeForge materialises scripted trees for the two branch kinds and records
// every branch it is asked to create.
type fakeForge struct {
	golden   map[string]string
	drift    map[string]string
	created  []string
	checkout int
}

func (f *fakeForge) ListGroupProjects(ctx context.Context, group string) ([]models.Project, error) {
	return nil, nil
}

func (f *fakeForge) ProjectHasBranch(ctx context.Context, project models.Project, branch string) (bool, error) {
	return true, nil
}

func (f *fakeForge) FilterProjectsWithBranch(ctx context.Context, projects []models.Project, branch string) ([]models.Project, error) {
	return projects, nil
}

func (f *fakeForge) SparseCheckout(ctx context.Context, repoURL, branch string, patterns []string, envFilter string) (*forge.CheckoutResult, error) {
	files := f.drift
	if strings.HasPrefix(branch, "golden_") {
		files = f.golden
	}
	dir, err := os.MkdirTemp("", "fake-checkout-")
	if err != nil {
		return nil, err
	}
	var names []string
	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return nil, err
		}
		names = append(names, path)
	}
	f.checkout++
	return &forge.CheckoutResult{Dir: dir, Files: names}, nil
}

func (f *fakeForge) Cleanup(result *forge.CheckoutResult) {
	if result != nil && result.Dir != "" {
		os.RemoveAll(result.Dir)
	}
}

func (f *fakeForge) ListTree(ctx context.Context, repoURL, branch string) ([]forge.TreeEntry, error) {
	return nil, nil
}

func (f *fakeForge) CreateOrphanBranch(ctx context.Context, repoURL, srcBranch, newBranch string, patterns []string, envFilter string) error {
	f.created = append(f.created, newBranch)
	return nil
}

func (f *fakeForge) DeleteBranch(ctx context.Context, repoURL, branch string) error {
	return nil
}

// failingLLM forces the triage stage onto its rule-based fallback.
type failingLLM struct{}

func (failingLLM) Name() string { return "failing" }

func (failingLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	return "", errors.New("model unavailable")
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(&store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunFullPipeline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertService(ctx, &models.Service{
		ServiceID:    "svc",
		DisplayName:  "svc",
		RepoURL:      "https://forge.local/svc.git",
		MainBranch:   "main",
		Environments: []string{"prod"},
		ConfigPaths:  []string{"**"},
	}))

	fc := &fakeForge{
		golden: map[string]string{"application.yml": "server:\n  timeout: 30\n"},
		drift:  map[string]string{"application.yml": "server:\n  timeout: 45\n"},
	}

	orch := New(RunContext{Store: s, Forge: fc, LLM: failingLLM{}})

	cert, err := orch.Run(ctx, "svc", "prod")
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, models.DecisionAutoMerge, cert.Decision)
	assert.NotEmpty(t, cert.CertifiedSnapshotBranch)
	assert.True(t, strings.HasPrefix(cert.CertifiedSnapshotBranch, "golden_prod_"))

	// The accepted snapshot became the new active baseline.
	active, err := s.GetActiveGoldenBranch(ctx, "svc", "prod")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, cert.CertifiedSnapshotBranch, active.BranchName)
	require.NotNil(t, active.CertificationScore)

	// Run record, bundle, triage output and report are all persisted.
	run, err := s.GetRun(ctx, cert.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)

	bundle, err := s.GetLatestContextBundle(ctx, cert.RunID)
	require.NoError(t, err)
	assert.NotEmpty(t, bundle.Deltas)

	output, err := s.GetLatestLLMOutput(ctx, cert.RunID)
	require.NoError(t, err)
	assert.True(t, output.Fallback)
}

func TestRunManyLowChangesGoToHumanReview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertService(ctx, &models.Service{
		ServiceID:    "svc",
		DisplayName:  "svc",
		RepoURL:      "https://forge.local/svc.git",
		MainBranch:   "main",
		Environments: []string{"dev"},
		ConfigPaths:  []string{"**"},
	}))

	var golden, drifted strings.Builder
	for i := 1; i <= 14; i++ {
		fmt.Fprintf(&golden, "banner%02d: msg-%d\n", i, i)
		fmt.Fprintf(&drifted, "banner%02d: msg-%d\n", i, i+100)
	}
	fc := &fakeForge{
		golden: map[string]string{"application.yml": golden.String()},
		drift:  map[string]string{"application.yml": drifted.String()},
	}

	orch := New(RunContext{Store: s, Forge: fc, LLM: failingLLM{}})

	cert, err := orch.Run(ctx, "svc", "dev")
	require.NoError(t, err)
	require.NotNil(t, cert)

	// A pile of low-risk changes stays below the auto-merge threshold;
	// with no collected evidence the score carries no evidence bonus.
	assert.Zero(t, cert.Components.EvidenceAdjustment)
	assert.Equal(t, models.DecisionHumanReview, cert.Decision)
	assert.Empty(t, cert.CertifiedSnapshotBranch)

	active, err := s.GetActiveGoldenBranch(ctx, "svc", "dev")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Nil(t, active.CertificationScore)
}

func TestRunRejectsUnknownService(t *testing.T) {
	s := newTestStore(t)
	orch := New(RunContext{Store: s, Forge: &fakeForge{}, LLM: failingLLM{}})
	_, err := orch.Run(context.Background(), "ghost", "prod")
	assert.ErrorContains(t, err, "unknown service")
}

func TestRunRejectsUnlistedEnvironment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertService(ctx, &models.Service{
		ServiceID: "svc", DisplayName: "svc", RepoURL: "u", MainBranch: "main",
		Environments: []string{"prod"},
	}))

	orch := New(RunContext{Store: s, Forge: &fakeForge{}, LLM: failingLLM{}})
	_, err := orch.Run(ctx, "svc", "beta2")
	assert.ErrorContains(t, err, "not configured for environment")
}

func TestRunIdenticalTreesCertifiesClean(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertService(ctx, &models.Service{
		ServiceID: "svc", DisplayName: "svc", RepoURL: "u", MainBranch: "main",
		Environments: []string{"prod"}, ConfigPaths: []string{"**"},
	}))

	same := map[string]string{"application.yml": "a: 1\n"}
	fc := &fakeForge{golden: same, drift: same}
	orch := New(RunContext{Store: s, Forge: fc, LLM: failingLLM{}})

	cert, err := orch.Run(ctx, "svc", "prod")
	require.NoError(t, err)
	assert.InDelta(t, 95, cert.ConfidenceScore, 0.001)
	assert.Equal(t, models.DecisionAutoMerge, cert.Decision)
}
