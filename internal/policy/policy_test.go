package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/driftcert/internal/models"
)

func testConfig() *Config {
	return &Config{
		Invariants: []InvariantRule{
			{
				Name:            "tls-required",
				LocatorContains: "server.ssl.enabled",
				ForbidValues:    []string{"false"},
				Severity:        "critical",
				Reason:          "TLS must stay enabled",
			},
			{
				Name:            "prod-log-level",
				LocatorContains: "logging.level.root",
				RequireValues:   []string{"INFO", "WARN", "ERROR"},
				Severity:        "medium",
				Environments:    []string{"prod"},
			},
		},
		EnvAllowKeys: []string{"server.port", "replicas"},
	}
}

func delta(locator, newVal string) *models.Delta {
	return &models.Delta{
		ID:      "cfg~app.yml." + locator,
		File:    "app.yml",
		Locator: models.Locator{Type: models.LocatorKeypath, Value: locator},
		New:     models.StrPtr(newVal),
	}
}

func TestEvaluateAllowedVarianceWins(t *testing.T) {
	cfg := testConfig()
	info := cfg.Evaluate(delta("server.port", "9090"), "prod")
	assert.Equal(t, models.TagAllowedVariance, info.Tag)
	assert.False(t, info.Violation)
}

func TestEvaluateForbiddenValue(t *testing.T) {
	cfg := testConfig()
	info := cfg.Evaluate(delta("server.ssl.enabled", "false"), "prod")
	assert.Equal(t, models.TagInvariantBreach, info.Tag)
	assert.Equal(t, "tls-required", info.Rule)
	assert.Equal(t, models.SeverityCritical, info.Severity)
	assert.True(t, info.Violation)
	assert.Equal(t, "TLS must stay enabled", info.Reason)
}

func TestEvaluateRequireSet(t *testing.T) {
	cfg := testConfig()

	info := cfg.Evaluate(delta("logging.level.root", "DEBUG"), "prod")
	assert.Equal(t, models.TagInvariantBreach, info.Tag)
	assert.Equal(t, "prod-log-level", info.Rule)

	info = cfg.Evaluate(delta("logging.level.root", "WARN"), "prod")
	assert.Equal(t, models.TagSuspect, info.Tag)
}

func TestEvaluateEnvironmentScoping(t *testing.T) {
	cfg := testConfig()
	// The prod-only rule must not fire in alpha.
	info := cfg.Evaluate(delta("logging.level.root", "DEBUG"), "alpha")
	assert.Equal(t, models.TagSuspect, info.Tag)
}

func TestEvaluateDefaultSuspect(t *testing.T) {
	cfg := testConfig()
	info := cfg.Evaluate(delta("cache.ttl", "120"), "prod")
	assert.Equal(t, models.TagSuspect, info.Tag)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
invariants:
  - name: tls-required
    locator_contains: server.ssl.enabled
    forbid_values: ["false"]
    severity: critical
env_allow_keys:
  - server.port
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Invariants, 1)
	assert.Equal(t, []string{"server.port"}, cfg.EnvAllowKeys)
}

func TestLoadRejectsBadSeverity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
invariants:
  - name: broken
    locator_contains: x
    severity: catastrophic
`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
