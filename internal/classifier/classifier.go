package classifier

import (
	"path"
	"regexp"
	"strings"
)

// FileCategory classifies a repository path by its role
type FileCategory string

const (
	FileConfig FileCategory = "config"
	FileCode   FileCategory = "code"
	FileBuild  FileCategory = "build"
	FileCI     FileCategory = "ci"
	FileInfra  FileCategory = "infra"
	FileSchema FileCategory = "schema"
	FileOther  FileCategory = "other"
)

// EnvGlobal marks a file that belongs to every environment's baseline
const EnvGlobal = "global"

var configExtensions = map[string]bool{
	".yml": true, ".yaml": true, ".json": true, ".toml": true,
	".properties": true, ".ini": true, ".conf": true, ".cfg": true,
	".xml": true, ".env": true,
}

var codeExtensions = map[string]bool{
	".go": true, ".java": true, ".py": true, ".js": true, ".ts": true,
	".rb": true, ".kt": true, ".scala": true, ".c": true, ".cpp": true,
	".cs": true, ".groovy": true,
}

var buildFiles = map[string]bool{
	"pom.xml": true, "build.gradle": true, "build.gradle.kts": true,
	"package.json": true, "package-lock.json": true, "requirements.txt": true,
	"setup.py": true, "go.mod": true, "go.sum": true, "makefile": true,
	"build.xml": true, "gemfile": true, "cargo.toml": true,
}

var ciMarkers = []string{"jenkinsfile", ".gitlab-ci", ".github/workflows", "azure-pipelines", ".circleci"}

var infraDirs = []string{"helm/", "k8s/", "kubernetes/", "terraform/"}

var schemaMarkers = []string{".sql", ".ddl", "schema", "migration", "liquibase", "flyway"}

// envTokens maps delimited path segments to environment tags. T-suffixed
// application files follow the beta tier convention (T1 -> beta1, T2..T6 -> beta2).
var envTokens = map[string]string{
	"prod":       "prod",
	"production": "prod",
	"alpha":      "alpha",
	"beta1":      "beta1",
	"beta2":      "beta2",
	"t1":         "beta1",
	"t2":         "beta2",
	"t3":         "beta2",
	"t4":         "beta2",
	"t5":         "beta2",
	"t6":         "beta2",
}

var segmentSplit = regexp.MustCompile(`[/\-_.]+`)

// Classify maps a repo-relative path to a file category.
// Matching is case-insensitive on the forward-slashed path.
func Classify(p string) FileCategory {
	lower := strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
	base := path.Base(lower)
	ext := path.Ext(lower)

	for _, m := range ciMarkers {
		if base == m || strings.Contains(lower, m) {
			return FileCI
		}
	}
	if strings.Contains(base, "dockerfile") || strings.Contains(base, "docker-compose") ||
		ext == ".tf" || ext == ".tfvars" {
		return FileInfra
	}
	for _, d := range infraDirs {
		if strings.Contains(lower, d) {
			return FileInfra
		}
	}
	if buildFiles[base] {
		return FileBuild
	}
	for _, m := range schemaMarkers {
		if strings.Contains(lower, m) {
			return FileSchema
		}
	}
	if configExtensions[ext] {
		return FileConfig
	}
	if codeExtensions[ext] {
		return FileCode
	}
	return FileOther
}

// IsConfig reports whether deltas should be emitted for the path.
// Build descriptors count: their keys flow through the semantic diff too.
func IsConfig(p string) bool {
	c := Classify(p)
	return c == FileConfig || c == FileBuild
}

// EnvironmentTag returns the single environment a path belongs to, or
// EnvGlobal when no recognised token appears as a delimited segment.
func EnvironmentTag(p string) string {
	lower := strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
	for _, seg := range segmentSplit.Split(lower, -1) {
		if env, ok := envTokens[seg]; ok {
			return env
		}
	}
	return EnvGlobal
}

// BelongsToEnv reports whether a path should appear in the baseline of env.
// Global files appear everywhere; tagged files only in their own environment.
func BelongsToEnv(p, env string) bool {
	tag := EnvironmentTag(p)
	return tag == EnvGlobal || tag == env
}
