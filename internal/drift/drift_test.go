package drift

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/driftcert/internal/models"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	return root
}

func snapshot(t *testing.T, files map[string]string) *Tree {
	t.Helper()
	tree, err := SnapshotTree(writeTree(t, files))
	require.NoError(t, err)
	return tree
}

func TestSnapshotTreeSkipsHidden(t *testing.T) {
	tree := snapshot(t, map[string]string{
		"app.yml":          "a: 1\n",
		".git/config":      "ignored",
		".hidden":          "ignored",
		"src/.secret/x.md": "ignored",
	})
	assert.Len(t, tree.Files, 1)
	assert.True(t, tree.Has("app.yml"))
}

func TestStructuralDiff(t *testing.T) {
	golden := snapshot(t, map[string]string{
		"app.yml":     "a: 1\n",
		"removed.yml": "gone\n",
		"same.yml":    "stable\n",
	})
	drift := snapshot(t, map[string]string{
		"app.yml":   "a: 2\n",
		"added.yml": "new\n",
		"same.yml":  "stable\n",
	})

	changes := structuralDiff(golden, drift)
	require.Len(t, changes.Added, 1)
	assert.Equal(t, "added.yml", changes.Added[0].Path)
	require.Len(t, changes.Removed, 1)
	assert.Equal(t, "removed.yml", changes.Removed[0].Path)
	require.Len(t, changes.Modified, 1)
	assert.Equal(t, "app.yml", changes.Modified[0].Path)
	assert.Empty(t, changes.Renamed)
}

func TestStructuralDiffDetectsRename(t *testing.T) {
	golden := snapshot(t, map[string]string{"old/name.yml": "content\n"})
	drift := snapshot(t, map[string]string{"new/name.yml": "content\n"})

	changes := structuralDiff(golden, drift)
	require.Len(t, changes.Renamed, 1)
	assert.Equal(t, "old/name.yml", changes.Renamed[0].From)
	assert.Equal(t, "new/name.yml", changes.Renamed[0].To)
	assert.Empty(t, changes.Added)
	assert.Empty(t, changes.Removed)
}

func TestStructuralDiffSymmetry(t *testing.T) {
	a := snapshot(t, map[string]string{"x.yml": "1\n", "y.yml": "2\n", "m.yml": "a\n"})
	b := snapshot(t, map[string]string{"y.yml": "2\n", "z.yml": "3\n", "m.yml": "b\n"})

	forward := structuralDiff(a, b)
	backward := structuralDiff(b, a)

	assert.Equal(t, paths(forward.Added), paths(backward.Removed))
	assert.Equal(t, paths(forward.Removed), paths(backward.Added))
	assert.Equal(t, paths(forward.Modified), paths(backward.Modified))
}

func paths(entries []models.FileEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func TestSemanticConfigDiff(t *testing.T) {
	golden := snapshot(t, map[string]string{
		"app.yml": "timeout: 30\nremoved: yes\n",
	})
	drift := snapshot(t, map[string]string{
		"app.yml": "timeout: 45\nadded: yes\n",
	})
	changes := structuralDiff(golden, drift)

	diffs := semanticConfigDiff(golden, drift, changes)
	require.Len(t, diffs, 1)
	d := diffs[0]
	require.Len(t, d.ChangedKeys, 1)
	assert.Equal(t, "timeout", d.ChangedKeys[0].Key)
	assert.Equal(t, "30", d.ChangedKeys[0].From)
	assert.Equal(t, "45", d.ChangedKeys[0].To)
	require.Len(t, d.AddedKeys, 1)
	assert.Equal(t, "added", d.AddedKeys[0].Key)
	require.Len(t, d.RemovedKeys, 1)
	assert.Equal(t, "removed", d.RemovedKeys[0].Key)
}

const goldenPom = `<project>
  <properties>
    <spring.version>5.3.20</spring.version>
  </properties>
  <dependencies>
    <dependency>
      <groupId>org.springframework</groupId>
      <artifactId>spring-core</artifactId>
      <version>${spring.version}</version>
    </dependency>
    <dependency>
      <groupId>com.example</groupId>
      <artifactId>dropped</artifactId>
      <version>1.0</version>
    </dependency>
  </dependencies>
</project>`

const driftPom = `<project>
  <properties>
    <spring.version>5.3.30</spring.version>
  </properties>
  <dependencies>
    <dependency>
      <groupId>org.springframework</groupId>
      <artifactId>spring-core</artifactId>
      <version>${spring.version}</version>
    </dependency>
    <dependency>
      <groupId>com.example</groupId>
      <artifactId>fresh</artifactId>
      <version>2.0</version>
    </dependency>
  </dependencies>
</project>`

func TestDependencyDiffMaven(t *testing.T) {
	golden := snapshot(t, map[string]string{"pom.xml": goldenPom})
	drift := snapshot(t, map[string]string{"pom.xml": driftPom})

	diffs := dependencyDiff(golden, drift)
	require.Contains(t, diffs, "maven")
	maven := diffs["maven"]

	require.Len(t, maven.Changed, 1)
	assert.Equal(t, "org.springframework:spring-core", maven.Changed[0].Name)
	assert.Equal(t, "5.3.20", maven.Changed[0].From)
	assert.Equal(t, "5.3.30", maven.Changed[0].To)

	require.Len(t, maven.Added, 1)
	assert.Equal(t, "com.example:fresh", maven.Added[0].Name)
	require.Len(t, maven.Removed, 1)
	assert.Equal(t, "com.example:dropped", maven.Removed[0].Name)
}

func TestDependencyDiffPip(t *testing.T) {
	golden := snapshot(t, map[string]string{"requirements.txt": "flask==2.0.1\nrequests==2.28.0\n"})
	drift := snapshot(t, map[string]string{"requirements.txt": "flask==2.3.0\nrequests==2.28.0\n"})

	diffs := dependencyDiff(golden, drift)
	require.Contains(t, diffs, "pip")
	require.Len(t, diffs["pip"].Changed, 1)
	assert.Equal(t, "flask", diffs["pip"].Changed[0].Name)
}

func TestSpringProfileDeltas(t *testing.T) {
	golden := snapshot(t, map[string]string{
		"application-prod.yml": "spring:\n  datasource:\n    url: jdbc:old\n",
	})
	drift := snapshot(t, map[string]string{
		"application-prod.yml": "spring:\n  datasource:\n    url: jdbc:new\n",
	})

	deltas := springProfileDeltas(golden, drift)
	require.Len(t, deltas, 1)
	assert.Equal(t, models.CategorySpringProfile, deltas[0].Category)
	assert.Equal(t, "spring.datasource.url", deltas[0].Locator.Value)
	assert.Equal(t, "jdbc:old", models.StrOrEmpty(deltas[0].Old))
	assert.Equal(t, "jdbc:new", models.StrOrEmpty(deltas[0].New))
	assert.Greater(t, deltas[0].Locator.LineStart, 0)
}

func TestJenkinsDeltas(t *testing.T) {
	golden := snapshot(t, map[string]string{
		"Jenkinsfile": `pipeline {
  agent { label 'linux' }
  stages {
    stage('Build') { steps { sh 'make' } }
  }
}`,
	})
	drift := snapshot(t, map[string]string{
		"Jenkinsfile": `pipeline {
  agent { label 'windows' }
  stages {
    stage('Build') { steps { sh 'make' } }
    stage('Deploy') { steps { sh 'make deploy' } }
  }
}`,
	})

	deltas := jenkinsDeltas(golden, drift)
	byKey := map[string]models.Delta{}
	for _, d := range deltas {
		byKey[d.Locator.Value] = d
	}
	require.Contains(t, byKey, "agent.label")
	assert.Equal(t, "linux", models.StrOrEmpty(byKey["agent.label"].Old))
	assert.Equal(t, "windows", models.StrOrEmpty(byKey["agent.label"].New))
	require.Contains(t, byKey, "stages")
	assert.Equal(t, "Build,Deploy", models.StrOrEmpty(byKey["stages"].New))
}

func TestDockerDeltas(t *testing.T) {
	golden := snapshot(t, map[string]string{"Dockerfile": "FROM golang:1.22 AS build\nFROM alpine:3.19\n"})
	drift := snapshot(t, map[string]string{"Dockerfile": "FROM golang:1.23 AS build\nFROM alpine:3.19\n"})

	deltas := dockerDeltas(golden, drift)
	require.Len(t, deltas, 1)
	assert.Equal(t, models.CategoryContainer, deltas[0].Category)
	assert.Equal(t, "from[0]", deltas[0].Locator.Value)
	assert.Equal(t, "golang:1.22", models.StrOrEmpty(deltas[0].Old))
	assert.Equal(t, "golang:1.23", models.StrOrEmpty(deltas[0].New))
}

func TestParseHunks(t *testing.T) {
	patch := `@@ -1,3 +1,3 @@
 context
-old line
+new line
@@ -10,2 +10,3 @@
 more
+added
`
	hunks := parseHunks(patch)
	require.Len(t, hunks, 2)
	assert.Equal(t, 1, hunks[0].OldStart)
	assert.Equal(t, 3, hunks[0].NewLines)
	assert.Equal(t, 10, hunks[1].NewStart)
	assert.Contains(t, hunks[0].Body, "-old line")
}

func TestCommentOnlyHunk(t *testing.T) {
	commentHunk := Hunk{Body: "@@ -1,2 +1,2 @@\n-# old comment\n+# new comment\n context\n"}
	assert.True(t, commentOnlyHunk(commentHunk, []string{"#"}))

	realHunk := Hunk{Body: "@@ -1,2 +1,2 @@\n-timeout: 30\n+timeout: 45\n"}
	assert.False(t, commentOnlyHunk(realHunk, []string{"#"}))

	// Without comment markers nothing is dropped.
	assert.False(t, commentOnlyHunk(commentHunk, nil))
}

func TestBuildUnifiedDiff(t *testing.T) {
	oldData := []byte("a\nb\nc\nd\ne\n")
	newData := []byte("a\nb\nX\nd\ne\n")

	patch := buildUnifiedDiff(oldData, newData)
	hunks := parseHunks(patch)
	require.Len(t, hunks, 1)
	assert.Contains(t, hunks[0].Body, "-c")
	assert.Contains(t, hunks[0].Body, "+X")
	assert.Contains(t, hunks[0].Body, " b")
}

func buildZip(t *testing.T, members map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(members[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.String()
}

func TestBinaryDeltasZip(t *testing.T) {
	goldenZip := buildZip(t, map[string]string{
		"lib/a.txt":            "same",
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\nImplementation-Version: 1.0.0\n",
	})
	driftZip := buildZip(t, map[string]string{
		"lib/a.txt":            "same",
		"lib/extra.txt":        "added",
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\nImplementation-Version: 2.0.0\n",
	})

	golden := snapshot(t, map[string]string{"app.jar": goldenZip})
	drift := snapshot(t, map[string]string{"app.jar": driftZip})
	changes := structuralDiff(golden, drift)

	deltas := binaryDeltas(golden, drift, changes)

	var categories []models.DeltaCategory
	for _, d := range deltas {
		categories = append(categories, d.Category)
	}
	assert.Contains(t, categories, models.CategoryBinaryMeta)
	assert.Contains(t, categories, models.CategoryArchiveDelta)
	assert.Contains(t, categories, models.CategoryArchiveManifest)

	var manifestDelta *models.Delta
	for i := range deltas {
		if deltas[i].Category == models.CategoryArchiveManifest {
			manifestDelta = &deltas[i]
		}
	}
	require.NotNil(t, manifestDelta)
	assert.Equal(t, "1.0.0", models.StrOrEmpty(manifestDelta.Old))
	assert.Equal(t, "2.0.0", models.StrOrEmpty(manifestDelta.New))
}

func TestEngineAnalyzeDeterministic(t *testing.T) {
	goldenFiles := map[string]string{
		"application.yml": "server:\n  timeout: 30\n",
		"pom.xml":         goldenPom,
	}
	driftFiles := map[string]string{
		"application.yml": "server:\n  timeout: 45\n",
		"pom.xml":         driftPom,
	}
	goldenRoot := writeTree(t, goldenFiles)
	driftRoot := writeTree(t, driftFiles)

	engine := NewEngine(nil)
	meta := models.BundleMeta{RunID: "run-1", ServiceID: "svc", Environment: "prod"}

	first, err := engine.Analyze(context.Background(), meta, goldenRoot, driftRoot)
	require.NoError(t, err)
	second, err := engine.Analyze(context.Background(), meta, goldenRoot, driftRoot)
	require.NoError(t, err)

	require.Equal(t, len(first.Deltas), len(second.Deltas))
	for i := range first.Deltas {
		assert.Equal(t, first.Deltas[i].ID, second.Deltas[i].ID)
	}

	// Deltas come out sorted by (file, id).
	for i := 1; i < len(first.Deltas); i++ {
		prev, cur := first.Deltas[i-1], first.Deltas[i]
		if prev.File == cur.File {
			assert.LessOrEqual(t, prev.ID, cur.ID)
		} else {
			assert.Less(t, prev.File, cur.File)
		}
	}
}

func TestEngineAnalyzeNoDrift(t *testing.T) {
	files := map[string]string{"application.yml": "a: 1\n"}
	goldenRoot := writeTree(t, files)
	driftRoot := writeTree(t, files)

	engine := NewEngine(nil)
	bundle, err := engine.Analyze(context.Background(), models.BundleMeta{RunID: "r"}, goldenRoot, driftRoot)
	require.NoError(t, err)
	assert.Zero(t, bundle.Overview.TotalDeltas)
	assert.Empty(t, bundle.Deltas)
}

func TestRiskHint(t *testing.T) {
	high := models.Delta{
		Category: models.CategoryConfig,
		Locator:  models.Locator{Value: "spring.datasource.password"},
	}
	level, _ := riskHint(&high)
	assert.Equal(t, models.RiskHigh, level)

	med := models.Delta{
		Category: models.CategoryConfig,
		Locator:  models.Locator{Value: "server.timeout"},
	}
	level, _ = riskHint(&med)
	assert.Equal(t, models.RiskMed, level)

	low := models.Delta{
		Category: models.CategoryFile,
		Locator:  models.Locator{Value: "docs/guide.md"},
	}
	level, _ = riskHint(&low)
	assert.Equal(t, models.RiskLow, level)
}

func TestMergeDeltasPrefersDetector(t *testing.T) {
	generic := models.Delta{
		ID:       "cfg~application-prod.yml.spring.profiles",
		Category: models.CategoryConfig,
		File:     "application-prod.yml",
		Locator:  models.Locator{Value: "spring.profiles"},
		Old:      models.StrPtr("a"),
		New:      models.StrPtr("b"),
	}
	tagged := generic
	tagged.Category = models.CategorySpringProfile

	merged := mergeDeltas([]models.Delta{generic, tagged})
	require.Len(t, merged, 1)
	assert.Equal(t, models.CategorySpringProfile, merged[0].Category)
}
