package fleet

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// RosterGroup is one entry of the master roster
type RosterGroup struct {
	Name    string `yaml:"name" validate:"required"`
	URL     string `yaml:"url" validate:"required"`
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled treats an absent flag as enabled
func (g *RosterGroup) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// Master is the ordered group list
type Master struct {
	Groups []RosterGroup `yaml:"groups" validate:"required,dive"`
}

// GroupOverride adjusts defaults for a single group
type GroupOverride struct {
	MainBranch      string   `yaml:"main_branch"`
	Environments    []string `yaml:"environments"`
	ConfigPaths     []string `yaml:"config_paths"`
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// Detail holds fleet-wide defaults, sync tuning and per-group overrides
type Detail struct {
	Defaults struct {
		MainBranch   string   `yaml:"main_branch"`
		Environments []string `yaml:"environments"`
		ConfigPaths  []string `yaml:"config_paths"`
	} `yaml:"defaults"`
	Sync struct {
		MaxBranchWorkers     int     `yaml:"max_branch_workers"`
		MinServicesThreshold int     `yaml:"min_services_threshold"`
		MaxDeletePercentage  float64 `yaml:"max_delete_percentage"`
	} `yaml:"sync"`
	Filters struct {
		IncludePatterns []string `yaml:"include_patterns"`
		ExcludePatterns []string `yaml:"exclude_patterns"`
	} `yaml:"filters"`
	GroupOverrides map[string]GroupOverride `yaml:"group_overrides"`
}

// Roster is the loaded and validated pair of roster files
type Roster struct {
	Master Master
	Detail Detail
	Hash   string
}

const (
	defaultMainBranch       = "main"
	defaultBranchWorkers    = 5
	defaultServiceWorkers   = 10
	defaultMinServices      = 1
	defaultMaxDeletePercent = 50.0
)

// LoadRoster reads the master roster and the optional detail file. The hash
// covers both files' raw bytes so any edit invalidates the no-op fast path.
func LoadRoster(masterPath, detailPath string) (*Roster, error) {
	masterData, err := os.ReadFile(masterPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}

	roster := &Roster{}
	if err := yaml.Unmarshal(masterData, &roster.Master); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	if err := validator.New().Struct(&roster.Master); err != nil {
		return nil, fmt.Errorf("invalid roster: %w", err)
	}

	seen := make(map[string]bool)
	for _, g := range roster.Master.Groups {
		if seen[g.Name] {
			return nil, fmt.Errorf("duplicate group %q in roster", g.Name)
		}
		seen[g.Name] = true
	}

	hasher := blake3.New()
	hasher.Write(masterData)

	if detailPath != "" {
		detailData, err := os.ReadFile(detailPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read roster detail: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(detailData, &roster.Detail); err != nil {
				return nil, fmt.Errorf("failed to parse roster detail: %w", err)
			}
			hasher.Write(detailData)
		}
	}
	roster.Hash = hex.EncodeToString(hasher.Sum(nil))

	roster.applyDefaults()
	return roster, nil
}

func (r *Roster) applyDefaults() {
	if r.Detail.Defaults.MainBranch == "" {
		r.Detail.Defaults.MainBranch = defaultMainBranch
	}
	if len(r.Detail.Defaults.Environments) == 0 {
		r.Detail.Defaults.Environments = []string{"prod"}
	}
	if r.Detail.Sync.MaxBranchWorkers <= 0 {
		r.Detail.Sync.MaxBranchWorkers = defaultBranchWorkers
	}
	if r.Detail.Sync.MinServicesThreshold <= 0 {
		r.Detail.Sync.MinServicesThreshold = defaultMinServices
	}
	if r.Detail.Sync.MaxDeletePercentage <= 0 {
		r.Detail.Sync.MaxDeletePercentage = defaultMaxDeletePercent
	}
}

// groupSettings resolves the effective settings for one group
type groupSettings struct {
	MainBranch      string
	Environments    []string
	ConfigPaths     []string
	IncludePatterns []string
	ExcludePatterns []string
}

func (r *Roster) settingsFor(group string) groupSettings {
	s := groupSettings{
		MainBranch:      r.Detail.Defaults.MainBranch,
		Environments:    r.Detail.Defaults.Environments,
		ConfigPaths:     r.Detail.Defaults.ConfigPaths,
		IncludePatterns: r.Detail.Filters.IncludePatterns,
		ExcludePatterns: r.Detail.Filters.ExcludePatterns,
	}
	ov, ok := r.Detail.GroupOverrides[group]
	if !ok {
		return s
	}
	if ov.MainBranch != "" {
		s.MainBranch = ov.MainBranch
	}
	if len(ov.Environments) > 0 {
		s.Environments = ov.Environments
	}
	if len(ov.ConfigPaths) > 0 {
		s.ConfigPaths = ov.ConfigPaths
	}
	if len(ov.IncludePatterns) > 0 {
		s.IncludePatterns = ov.IncludePatterns
	}
	if len(ov.ExcludePatterns) > 0 {
		s.ExcludePatterns = ov.ExcludePatterns
	}
	return s
}
