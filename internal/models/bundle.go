package models

import "time"

// BundleMeta identifies the trees a bundle was computed from
type BundleMeta struct {
	RunID        string    `json:"run_id"`
	ServiceID    string    `json:"service_id"`
	Environment  string    `json:"environment"`
	GoldenBranch string    `json:"golden_branch"`
	DriftBranch  string    `json:"drift_branch"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Overview summarises the structural diff
type Overview struct {
	TotalGoldenFiles int `json:"total_golden_files"`
	TotalDriftFiles  int `json:"total_drift_files"`
	AddedFiles       int `json:"added_files"`
	RemovedFiles     int `json:"removed_files"`
	ModifiedFiles    int `json:"modified_files"`
	RenamedFiles     int `json:"renamed_files"`
	TotalDeltas      int `json:"total_deltas"`
}

// FileEntry describes one file on one side of the diff
type FileEntry struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	SHA256   string        `json:"sha256"`
	Category DeltaCategory `json:"category"`
	EnvTag   string        `json:"env_tag"`
}

// RenamedFile pairs the two sides of a content-identical move
type RenamedFile struct {
	From   string `json:"from"`
	To     string `json:"to"`
	SHA256 string `json:"sha256"`
}

// FileChanges is the structural diff of the two trees
type FileChanges struct {
	Added    []FileEntry   `json:"added"`
	Removed  []FileEntry   `json:"removed"`
	Modified []FileEntry   `json:"modified"`
	Renamed  []RenamedFile `json:"renamed"`
}

// DependencyChange is one coordinate-level dependency delta
type DependencyChange struct {
	Ecosystem string `json:"ecosystem"`
	Name      string `json:"name"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

// DependencyDiff groups dependency changes per ecosystem
type DependencyDiff struct {
	Added   []DependencyChange `json:"added"`
	Removed []DependencyChange `json:"removed"`
	Changed []DependencyChange `json:"changed"`
}

// KeyChange is a single semantic key difference in a config file
type KeyChange struct {
	Key  string `json:"key"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// ConfigFileDiff holds the semantic diff of one config file
type ConfigFileDiff struct {
	File        string      `json:"file"`
	AddedKeys   []KeyChange `json:"added_keys"`
	RemovedKeys []KeyChange `json:"removed_keys"`
	ChangedKeys []KeyChange `json:"changed_keys"`
}

// ContextBundle is the full drift-engine output for one run
type ContextBundle struct {
	Meta         BundleMeta                 `json:"meta"`
	Overview     Overview                   `json:"overview"`
	FileChanges  FileChanges                `json:"file_changes"`
	Dependencies map[string]*DependencyDiff `json:"dependencies"`
	Configs      []ConfigFileDiff           `json:"configs"`
	Deltas       []Delta                    `json:"deltas"`
	GitPatches   map[string]string          `json:"git_patches,omitempty"`
}
