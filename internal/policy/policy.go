package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/catherinevee/driftcert/internal/models"
)

// InvariantRule forbids or requires values at locators matching a substring
type InvariantRule struct {
	Name            string   `yaml:"name" validate:"required"`
	LocatorContains string   `yaml:"locator_contains" validate:"required"`
	ForbidValues    []string `yaml:"forbid_values"`
	RequireValues   []string `yaml:"require_values"`
	Severity        string   `yaml:"severity" validate:"required,oneof=low medium high critical"`
	Reason          string   `yaml:"reason"`
	Environments    []string `yaml:"environments"`
}

// Config is the declarative policy set applied to deltas
type Config struct {
	Invariants   []InvariantRule `yaml:"invariants" validate:"dive"`
	EnvAllowKeys []string        `yaml:"env_allow_keys"`
}

// Load reads and validates a policy file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid policy file: %w", err)
	}
	return &cfg, nil
}

// AppliesTo reports whether a rule is scoped to the environment
func (r *InvariantRule) AppliesTo(env string) bool {
	if len(r.Environments) == 0 {
		return true
	}
	for _, e := range r.Environments {
		if e == env {
			return true
		}
	}
	return false
}

// Evaluate tags one delta against the policy for the given environment.
// allowed_variance wins when the locator is listed; otherwise an invariant
// hit yields invariant_breach, and everything else stays suspect.
func (c *Config) Evaluate(delta *models.Delta, env string) models.PolicyInfo {
	locator := delta.Locator.Value

	for _, allow := range c.EnvAllowKeys {
		if allow != "" && strings.Contains(locator, allow) {
			return models.PolicyInfo{Tag: models.TagAllowedVariance, Rule: allow}
		}
	}

	newVal := models.StrOrEmpty(delta.New)
	for i := range c.Invariants {
		rule := &c.Invariants[i]
		if !rule.AppliesTo(env) || !strings.Contains(locator, rule.LocatorContains) {
			continue
		}
		if breach, why := rule.check(newVal); breach {
			return models.PolicyInfo{
				Tag:       models.TagInvariantBreach,
				Rule:      rule.Name,
				Severity:  models.Severity(rule.Severity),
				Violation: true,
				Reason:    firstNonEmpty(rule.Reason, why),
			}
		}
	}

	return models.PolicyInfo{Tag: models.TagSuspect}
}

// check returns breach=true when the value hits a forbid set or misses a
// require set.
func (r *InvariantRule) check(value string) (bool, string) {
	for _, forbidden := range r.ForbidValues {
		if value == forbidden {
			return true, fmt.Sprintf("value %q is forbidden by %s", value, r.Name)
		}
	}
	if len(r.RequireValues) > 0 {
		for _, required := range r.RequireValues {
			if value == required {
				return false, ""
			}
		}
		return true, fmt.Sprintf("value %q is not in the required set of %s", value, r.Name)
	}
	return false, ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
