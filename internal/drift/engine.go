package drift

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/catherinevee/driftcert/internal/classifier"
	"github.com/catherinevee/driftcert/internal/logger"
	"github.com/catherinevee/driftcert/internal/models"
	"github.com/catherinevee/driftcert/internal/parser"
	"github.com/catherinevee/driftcert/internal/policy"
)

// Engine computes the full context bundle for a golden/drift branch pair
type Engine struct {
	log      logger.Logger
	policies *policy.Config
}

// NewEngine creates a drift engine. policies may be nil, in which case every
// delta stays untagged suspect.
func NewEngine(policies *policy.Config) *Engine {
	return &Engine{
		log:      logger.New("drift-engine"),
		policies: policies,
	}
}

// Analyze snapshots both checked-out trees and produces the context bundle:
// structural diff, semantic config diffs, dependency diffs, specialised
// detectors, code hunks, archive deltas, then a merge, policy-tagging and
// risk-hint pass over the combined delta set. Output ordering is
// deterministic: deltas sorted by (file, id).
func (e *Engine) Analyze(ctx context.Context, meta models.BundleMeta, goldenRoot, driftRoot string) (*models.ContextBundle, error) {
	start := time.Now()

	golden, err := SnapshotTree(goldenRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot golden tree: %w", err)
	}
	drift, err := SnapshotTree(driftRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot drift tree: %w", err)
	}

	changes := structuralDiff(golden, drift)
	configs := semanticConfigDiff(golden, drift, changes)
	dependencies := dependencyDiff(golden, drift)

	var deltas []models.Delta
	deltas = append(deltas, configDeltas(drift, configs)...)
	deltas = append(deltas, dependencyDeltas(dependencies)...)
	deltas = append(deltas, filePresenceDeltas(changes)...)
	deltas = append(deltas, springProfileDeltas(golden, drift)...)
	deltas = append(deltas, jenkinsDeltas(golden, drift)...)
	deltas = append(deltas, dockerDeltas(golden, drift)...)

	hunkDeltas, patches := codeHunkDeltas(ctx, golden, drift, changes)
	deltas = append(deltas, hunkDeltas...)
	deltas = append(deltas, binaryDeltas(golden, drift, changes)...)

	deltas = mergeDeltas(deltas)
	attachHunkContext(deltas, hunkDeltas)

	for i := range deltas {
		if e.policies != nil {
			info := e.policies.Evaluate(&deltas[i], meta.Environment)
			deltas[i].Policy = &info
		}
		deltas[i].RiskLevel, deltas[i].RiskReason = riskHint(&deltas[i])
	}

	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].File != deltas[j].File {
			return deltas[i].File < deltas[j].File
		}
		return deltas[i].ID < deltas[j].ID
	})

	bundle := &models.ContextBundle{
		Meta:         meta,
		FileChanges:  changes,
		Dependencies: dependencies,
		Configs:      configs,
		Deltas:       deltas,
		GitPatches:   patches,
		Overview: models.Overview{
			TotalGoldenFiles: len(golden.Files),
			TotalDriftFiles:  len(drift.Files),
			AddedFiles:       len(changes.Added),
			RemovedFiles:     len(changes.Removed),
			ModifiedFiles:    len(changes.Modified),
			RenamedFiles:     len(changes.Renamed),
			TotalDeltas:      len(deltas),
		},
	}

	e.log.Info("drift analysis complete",
		logger.String("service_id", meta.ServiceID),
		logger.String("environment", meta.Environment),
		logger.Int("deltas", len(deltas)),
		logger.Duration("elapsed", time.Since(start)))

	return bundle, nil
}

// configDeltas converts semantic key diffs into cfg~ deltas, with the leaf
// key's line in the drift file when it can be located.
func configDeltas(drift *Tree, configs []models.ConfigFileDiff) []models.Delta {
	var deltas []models.Delta
	for _, diff := range configs {
		category := models.CategoryConfig
		if classifier.Classify(diff.File) == classifier.FileBuild {
			category = models.CategoryBuildConfig
		}
		driftData := drift.Read(diff.File)

		emit := func(key string, old, new_ *string) {
			loc := models.Locator{Type: models.LocatorKeypath, Value: key}
			if driftData != nil {
				loc.LineStart = parser.LineOf(driftData, key)
			}
			deltas = append(deltas, models.Delta{
				ID:       fmt.Sprintf("cfg~%s.%s", diff.File, key),
				Category: category,
				File:     diff.File,
				Locator:  loc,
				Old:      old,
				New:      new_,
			})
		}

		for _, kc := range diff.AddedKeys {
			emit(kc.Key, nil, models.StrPtr(kc.To))
		}
		for _, kc := range diff.RemovedKeys {
			emit(kc.Key, models.StrPtr(kc.From), nil)
		}
		for _, kc := range diff.ChangedKeys {
			emit(kc.Key, models.StrPtr(kc.From), models.StrPtr(kc.To))
		}
	}
	return deltas
}

var manifestFiles = map[string]string{
	"maven": "pom.xml",
	"npm":   "package.json",
	"pip":   "requirements.txt",
}

func dependencyDeltas(diffs map[string]*models.DependencyDiff) []models.Delta {
	ecosystems := make([]string, 0, len(diffs))
	for eco := range diffs {
		ecosystems = append(ecosystems, eco)
	}
	sort.Strings(ecosystems)

	var deltas []models.Delta
	for _, eco := range ecosystems {
		diff := diffs[eco]
		file := manifestFiles[eco]

		emit := func(name string, old, new_ *string) {
			deltas = append(deltas, models.Delta{
				ID:       fmt.Sprintf("dep~%s:%s", eco, name),
				Category: models.CategoryDependency,
				File:     file,
				Locator:  models.Locator{Type: models.LocatorCoord, Value: name},
				Old:      old,
				New:      new_,
			})
		}
		for _, c := range diff.Added {
			emit(c.Name, nil, models.StrPtr(c.To))
		}
		for _, c := range diff.Removed {
			emit(c.Name, models.StrPtr(c.From), nil)
		}
		for _, c := range diff.Changed {
			emit(c.Name, models.StrPtr(c.From), models.StrPtr(c.To))
		}
	}
	return deltas
}

// filePresenceDeltas records added/removed/renamed files as deltas so pure
// presence changes still reach triage.
func filePresenceDeltas(changes models.FileChanges) []models.Delta {
	var deltas []models.Delta
	for _, entry := range changes.Added {
		deltas = append(deltas, models.Delta{
			ID:       fmt.Sprintf("file~%s", entry.Path),
			Category: models.CategoryFile,
			File:     entry.Path,
			Locator:  models.Locator{Type: models.LocatorPath, Value: entry.Path},
			New:      models.StrPtr(fmt.Sprintf("added size=%d", entry.Size)),
		})
	}
	for _, entry := range changes.Removed {
		deltas = append(deltas, models.Delta{
			ID:       fmt.Sprintf("file~%s", entry.Path),
			Category: models.CategoryFile,
			File:     entry.Path,
			Locator:  models.Locator{Type: models.LocatorPath, Value: entry.Path},
			Old:      models.StrPtr(fmt.Sprintf("removed size=%d", entry.Size)),
		})
	}
	for _, ren := range changes.Renamed {
		deltas = append(deltas, models.Delta{
			ID:       fmt.Sprintf("file~%s", ren.To),
			Category: models.CategoryFile,
			File:     ren.To,
			Locator:  models.Locator{Type: models.LocatorPath, Value: ren.To},
			Old:      models.StrPtr(ren.From),
			New:      models.StrPtr(ren.To),
			Metadata: map[string]interface{}{"renamed": true},
		})
	}
	return deltas
}

// categoryPriority decides which delta survives a merge: a specialised
// detector beats the generic config diff for the same (file, key, old, new).
var categoryPriority = map[models.DeltaCategory]int{
	models.CategorySpringProfile: 4,
	models.CategoryJenkins:       3,
	models.CategoryContainer:     3,
	models.CategoryDependency:    2,
	models.CategoryBuildConfig:   1,
	models.CategoryConfig:        1,
}

func mergeDeltas(deltas []models.Delta) []models.Delta {
	type mergeKey struct {
		file    string
		locator string
		old     string
		new_    string
	}

	kept := make(map[mergeKey]int)
	out := make([]models.Delta, 0, len(deltas))
	for _, delta := range deltas {
		key := mergeKey{
			file:    delta.File,
			locator: delta.Locator.Value,
			old:     models.StrOrEmpty(delta.Old),
			new_:    models.StrOrEmpty(delta.New),
		}
		idx, seen := kept[key]
		if !seen {
			kept[key] = len(out)
			out = append(out, delta)
			continue
		}
		if categoryPriority[delta.Category] > categoryPriority[out[idx].Category] {
			out[idx] = delta
		}
	}
	return out
}

// attachHunkContext links keypath deltas to the code hunk that covers their
// line, so triage sees the surrounding diff text.
func attachHunkContext(deltas []models.Delta, hunks []models.Delta) {
	byFile := make(map[string][]models.Delta)
	for _, h := range hunks {
		byFile[h.File] = append(byFile[h.File], h)
	}

	for i := range deltas {
		d := &deltas[i]
		if d.Locator.Type != models.LocatorKeypath || d.Locator.LineStart == 0 {
			continue
		}
		for _, h := range byFile[d.File] {
			start := h.Locator.NewStart
			end := start + h.Locator.NewLines
			if d.Locator.LineStart >= start && d.Locator.LineStart < end {
				if d.Metadata == nil {
					d.Metadata = make(map[string]interface{})
				}
				d.Metadata["hunk_info"] = h.Locator.HunkHeader
				d.Metadata["code_snippet"] = h.Snippet
				break
			}
		}
	}
}

var (
	highRiskMarkers = []string{
		"credential", "secret", "token", "password", "passwd",
		"private_key", "privatekey", "jdbc", "apikey", "api_key", "auth",
	}
	medRiskMarkers = []string{
		"timeout", "retry", "retries", "pool", "thread", "port", "url",
		"host", "endpoint", "feature", "enabled", "debug", "level",
		"replicas", "memory", "cpu", "ttl", "cache",
	}
)

// riskHint assigns a pre-triage heuristic risk from the locator and values.
// Credential-shaped keys score high, behavioural knobs score med, everything
// else (presence and metadata deltas included) scores low.
func riskHint(delta *models.Delta) (models.RiskLevel, string) {
	haystack := strings.ToLower(delta.Locator.Value + " " +
		models.StrOrEmpty(delta.Old) + " " + models.StrOrEmpty(delta.New))

	for _, marker := range highRiskMarkers {
		if strings.Contains(haystack, marker) {
			return models.RiskHigh, fmt.Sprintf("matches sensitive marker %q", marker)
		}
	}

	switch delta.Category {
	case models.CategoryFile, models.CategoryBinaryMeta,
		models.CategoryArchiveDelta, models.CategoryArchiveManifest:
		return models.RiskLow, ""
	case models.CategoryJenkins, models.CategoryContainer, models.CategoryDependency:
		return models.RiskMed, "build or runtime surface change"
	}

	for _, marker := range medRiskMarkers {
		if strings.Contains(haystack, marker) {
			return models.RiskMed, fmt.Sprintf("behavioural setting %q", marker)
		}
	}
	return models.RiskLow, ""
}
