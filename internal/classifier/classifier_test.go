package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want FileCategory
	}{
		{"src/main/resources/application.yml", FileConfig},
		{"config/settings.json", FileConfig},
		{"app.properties", FileConfig},
		{"server.conf", FileConfig},
		{"pom.xml", FileBuild},
		{"package.json", FileBuild},
		{"requirements.txt", FileBuild},
		{"build.gradle", FileBuild},
		{"Jenkinsfile", FileCI},
		{".gitlab-ci.yml", FileCI},
		{".github/workflows/release.yml", FileCI},
		{"Dockerfile", FileInfra},
		{"docker-compose.yml", FileInfra},
		{"terraform/main.tf", FileInfra},
		{"helm/values.yaml", FileInfra},
		{"db/migration/V1__init.sql", FileSchema},
		{"src/main/java/App.java", FileCode},
		{"scripts/deploy.py", FileCode},
		{"LICENSE", FileOther},
		{"docs/readme.txt", FileOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.path), "path %s", tt.path)
	}
}

func TestIsConfig(t *testing.T) {
	assert.True(t, IsConfig("application.yml"))
	assert.True(t, IsConfig("pom.xml"))
	assert.False(t, IsConfig("main.go"))
	assert.False(t, IsConfig("README.md"))
}

func TestEnvironmentTag(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"application-prod.yml", "prod"},
		{"application-production.yaml", "prod"},
		{"config/alpha/service.yml", "alpha"},
		{"application-beta1.yml", "beta1"},
		{"application-T1.yml", "beta1"},
		{"application-T2.yml", "beta2"},
		{"application-t6.properties", "beta2"},
		{"pom.xml", EnvGlobal},
		{"application.yml", EnvGlobal},
		{"src/main/java/App.java", EnvGlobal},
		// "prod" must be a delimited segment, not a substring
		{"reproduction.yml", EnvGlobal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EnvironmentTag(tt.path), "path %s", tt.path)
	}
}

func TestBelongsToEnv(t *testing.T) {
	// A prod-tagged file never leaks into another environment's baseline.
	assert.True(t, BelongsToEnv("application-prod.yml", "prod"))
	assert.False(t, BelongsToEnv("application-prod.yml", "alpha"))
	assert.False(t, BelongsToEnv("application-prod.yml", "beta1"))

	// Global files belong everywhere.
	assert.True(t, BelongsToEnv("pom.xml", "prod"))
	assert.True(t, BelongsToEnv("pom.xml", "beta1"))
	assert.True(t, BelongsToEnv("application.yml", "alpha"))
}
