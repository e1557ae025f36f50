package drift

import (
	"sort"

	"github.com/catherinevee/driftcert/internal/classifier"
	"github.com/catherinevee/driftcert/internal/models"
	"github.com/catherinevee/driftcert/internal/parser"
)

// semanticConfigDiff computes the key-level diff of every added or modified
// config file. Missing sides parse to the empty map, so pure additions
// surface every key as added.
func semanticConfigDiff(golden, drift *Tree, changes models.FileChanges) []models.ConfigFileDiff {
	paths := make([]string, 0)
	for _, e := range changes.Added {
		if classifier.IsConfig(e.Path) {
			paths = append(paths, e.Path)
		}
	}
	for _, e := range changes.Modified {
		if classifier.IsConfig(e.Path) {
			paths = append(paths, e.Path)
		}
	}
	sort.Strings(paths)

	var diffs []models.ConfigFileDiff
	for _, path := range paths {
		diff := diffConfigFile(path, golden.Read(path), drift.Read(path))
		if len(diff.AddedKeys)+len(diff.RemovedKeys)+len(diff.ChangedKeys) > 0 {
			diffs = append(diffs, diff)
		}
	}
	return diffs
}

func diffConfigFile(path string, goldenData, driftData []byte) models.ConfigFileDiff {
	goldenKeys := parser.Flatten(path, goldenData)
	driftKeys := parser.Flatten(path, driftData)
	diff := models.ConfigFileDiff{File: path}

	for _, key := range parser.SortedKeys(driftKeys) {
		newVal := driftKeys[key]
		oldVal, existed := goldenKeys[key]
		switch {
		case !existed:
			diff.AddedKeys = append(diff.AddedKeys, models.KeyChange{Key: key, To: newVal})
		case oldVal != newVal:
			diff.ChangedKeys = append(diff.ChangedKeys, models.KeyChange{Key: key, From: oldVal, To: newVal})
		}
	}
	for _, key := range parser.SortedKeys(goldenKeys) {
		if _, exists := driftKeys[key]; !exists {
			diff.RemovedKeys = append(diff.RemovedKeys, models.KeyChange{Key: key, From: goldenKeys[key]})
		}
	}
	return diff
}
