package drift

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/catherinevee/driftcert/internal/models"
	"github.com/catherinevee/driftcert/internal/parser"
)

// springProfileDeltas diffs every application*.yml/yaml/properties file at
// key level, tagging results as spring_profile changes.
func springProfileDeltas(golden, drift *Tree) []models.Delta {
	files := unionPaths(golden, drift, isSpringProfileFile)
	if len(files) == 0 {
		return nil
	}

	var deltas []models.Delta
	for _, file := range files {
		diff := diffConfigFile(file, golden.Read(file), drift.Read(file))
		driftData := drift.Read(file)
		for _, kc := range diff.AddedKeys {
			deltas = append(deltas, springDelta(file, kc.Key, nil, models.StrPtr(kc.To), driftData))
		}
		for _, kc := range diff.RemovedKeys {
			deltas = append(deltas, springDelta(file, kc.Key, models.StrPtr(kc.From), nil, driftData))
		}
		for _, kc := range diff.ChangedKeys {
			deltas = append(deltas, springDelta(file, kc.Key, models.StrPtr(kc.From), models.StrPtr(kc.To), driftData))
		}
	}
	return deltas
}

func isSpringProfileFile(p string) bool {
	base := strings.ToLower(path.Base(p))
	if !strings.HasPrefix(base, "application") {
		return false
	}
	ext := path.Ext(base)
	return ext == ".yml" || ext == ".yaml" || ext == ".properties"
}

func springDelta(file, key string, old, new_ *string, driftData []byte) models.Delta {
	loc := models.Locator{Type: models.LocatorKeypath, Value: key}
	if driftData != nil {
		loc.LineStart = parser.LineOf(driftData, key)
	}
	return models.Delta{
		ID:       fmt.Sprintf("cfg~%s.%s", file, key),
		Category: models.CategorySpringProfile,
		File:     file,
		Locator:  loc,
		Old:      old,
		New:      new_,
	}
}

var (
	jenkinsAgentKind   = regexp.MustCompile(`(?m)^\s*agent\s*\{\s*(\w+)`)
	jenkinsAgentAny    = regexp.MustCompile(`(?m)^\s*agent\s+(any|none)\b`)
	jenkinsAgentLabel  = regexp.MustCompile(`label\s+['"]([^'"]+)['"]`)
	jenkinsDockerImage = regexp.MustCompile(`(?:docker\s*\{[^}]*image|image)\s+['"]([^'"]+)['"]`)
	jenkinsCredentials = regexp.MustCompile(`credentials\(\s*['"]([^'"]+)['"]\s*\)`)
	jenkinsLibraries   = regexp.MustCompile(`@Library\(\s*['"]([^'"]+)['"]\s*\)`)
	jenkinsStages      = regexp.MustCompile(`stage\s*\(\s*['"]([^'"]+)['"]\s*\)`)
)

// jenkinsProfile is the regex-extracted shape of a Jenkinsfile
func jenkinsProfile(data []byte) map[string]string {
	if len(data) == 0 {
		return map[string]string{}
	}
	text := string(data)
	out := make(map[string]string)

	if m := jenkinsAgentKind.FindStringSubmatch(text); m != nil {
		out["agent.kind"] = m[1]
	} else if m := jenkinsAgentAny.FindStringSubmatch(text); m != nil {
		out["agent.kind"] = m[1]
	}
	if m := jenkinsAgentLabel.FindStringSubmatch(text); m != nil {
		out["agent.label"] = m[1]
	}
	if m := jenkinsDockerImage.FindStringSubmatch(text); m != nil {
		out["agent.docker.image"] = m[1]
	}
	if ids := jenkinsCredentials.FindAllStringSubmatch(text, -1); ids != nil {
		out["credentials.ids"] = joinMatches(ids)
	}
	if libs := jenkinsLibraries.FindAllStringSubmatch(text, -1); libs != nil {
		out["libraries"] = joinMatches(libs)
	}
	if stages := jenkinsStages.FindAllStringSubmatch(text, -1); stages != nil {
		out["stages"] = joinMatches(stages)
	}
	return out
}

func joinMatches(matches [][]string) string {
	values := make([]string, 0, len(matches))
	for _, m := range matches {
		values = append(values, m[1])
	}
	return strings.Join(values, ",")
}

// jenkinsDeltas diffs the extracted Jenkinsfile profile per key
func jenkinsDeltas(golden, drift *Tree) []models.Delta {
	files := unionPaths(golden, drift, func(p string) bool {
		return strings.EqualFold(path.Base(p), "jenkinsfile")
	})

	var deltas []models.Delta
	for _, file := range files {
		goldenProfile := jenkinsProfile(golden.Read(file))
		driftProfile := jenkinsProfile(drift.Read(file))

		keys := make(map[string]bool)
		for k := range goldenProfile {
			keys[k] = true
		}
		for k := range driftProfile {
			keys[k] = true
		}
		sorted := make([]string, 0, len(keys))
		for k := range keys {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)

		for _, key := range sorted {
			oldVal, hadOld := goldenProfile[key]
			newVal, hadNew := driftProfile[key]
			if hadOld && hadNew && oldVal == newVal {
				continue
			}
			delta := models.Delta{
				ID:       fmt.Sprintf("cfg~%s.%s", file, key),
				Category: models.CategoryJenkins,
				File:     file,
				Locator:  models.Locator{Type: models.LocatorKeypath, Value: key},
			}
			if hadOld {
				delta.Old = models.StrPtr(oldVal)
			}
			if hadNew {
				delta.New = models.StrPtr(newVal)
			}
			deltas = append(deltas, delta)
		}
	}
	return deltas
}

var dockerFrom = regexp.MustCompile(`(?im)^\s*FROM\s+(\S+)(?:\s+AS\s+\S+)?\s*$`)

// dockerDeltas diffs the ordered FROM directive list by index
func dockerDeltas(golden, drift *Tree) []models.Delta {
	files := unionPaths(golden, drift, func(p string) bool {
		return strings.Contains(strings.ToLower(path.Base(p)), "dockerfile")
	})

	var deltas []models.Delta
	for _, file := range files {
		goldenFroms := dockerFromImages(golden.Read(file))
		driftFroms := dockerFromImages(drift.Read(file))

		max := len(goldenFroms)
		if len(driftFroms) > max {
			max = len(driftFroms)
		}
		for i := 0; i < max; i++ {
			var oldVal, newVal *string
			if i < len(goldenFroms) {
				oldVal = models.StrPtr(goldenFroms[i])
			}
			if i < len(driftFroms) {
				newVal = models.StrPtr(driftFroms[i])
			}
			if oldVal != nil && newVal != nil && *oldVal == *newVal {
				continue
			}
			deltas = append(deltas, models.Delta{
				ID:       fmt.Sprintf("cfg~%s.from[%d]", file, i),
				Category: models.CategoryContainer,
				File:     file,
				Locator:  models.Locator{Type: models.LocatorCoord, Value: fmt.Sprintf("from[%d]", i)},
				Old:      oldVal,
				New:      newVal,
			})
		}
	}
	return deltas
}

func dockerFromImages(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var images []string
	for _, m := range dockerFrom.FindAllStringSubmatch(string(data), -1) {
		images = append(images, m[1])
	}
	return images
}

func unionPaths(golden, drift *Tree, match func(string) bool) []string {
	seen := make(map[string]bool)
	for p := range golden.Files {
		if match(p) {
			seen[p] = true
		}
	}
	for p := range drift.Files {
		if match(p) {
			seen[p] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
