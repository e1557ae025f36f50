package drift

import (
	"sort"

	"github.com/catherinevee/driftcert/internal/models"
)

// structuralDiff computes added/removed/modified/renamed between golden and
// drift trees. Renames are content-identical files whose path changed; each
// match consumes one entry from both the added and removed sets.
func structuralDiff(golden, drift *Tree) models.FileChanges {
	var changes models.FileChanges

	addedPaths := make([]string, 0)
	removedPaths := make([]string, 0)

	for path := range drift.Files {
		if !golden.Has(path) {
			addedPaths = append(addedPaths, path)
		}
	}
	for path, gf := range golden.Files {
		if !drift.Has(path) {
			removedPaths = append(removedPaths, path)
		} else if drift.Files[path].SHA256 != gf.SHA256 {
			changes.Modified = append(changes.Modified, drift.entry(path))
		}
	}

	sort.Strings(addedPaths)
	sort.Strings(removedPaths)

	// Rename detection by content hash.
	removedByHash := make(map[string][]string)
	for _, path := range removedPaths {
		hash := golden.Files[path].SHA256
		removedByHash[hash] = append(removedByHash[hash], path)
	}

	consumedAdded := make(map[string]bool)
	consumedRemoved := make(map[string]bool)
	for _, added := range addedPaths {
		hash := drift.Files[added].SHA256
		candidates := removedByHash[hash]
		for _, removed := range candidates {
			if consumedRemoved[removed] {
				continue
			}
			changes.Renamed = append(changes.Renamed, models.RenamedFile{
				From:   removed,
				To:     added,
				SHA256: hash,
			})
			consumedAdded[added] = true
			consumedRemoved[removed] = true
			break
		}
	}

	for _, path := range addedPaths {
		if !consumedAdded[path] {
			changes.Added = append(changes.Added, drift.entry(path))
		}
	}
	for _, path := range removedPaths {
		if !consumedRemoved[path] {
			changes.Removed = append(changes.Removed, golden.entry(path))
		}
	}

	sort.Slice(changes.Modified, func(i, j int) bool { return changes.Modified[i].Path < changes.Modified[j].Path })
	sort.Slice(changes.Renamed, func(i, j int) bool { return changes.Renamed[i].To < changes.Renamed[j].To })

	return changes
}
