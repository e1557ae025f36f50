package drift

import (
	"bufio"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"regexp"
	"sort"
	"strings"

	"github.com/catherinevee/driftcert/internal/models"
)

// dependencyDiff inspects the manifest of each supported ecosystem on both
// sides and reports coordinate-level adds/removes/changes.
func dependencyDiff(golden, drift *Tree) map[string]*models.DependencyDiff {
	out := make(map[string]*models.DependencyDiff)

	type ecosystem struct {
		name  string
		file  string
		parse func([]byte) map[string]string
	}
	ecosystems := []ecosystem{
		{"maven", "pom.xml", parseMavenDeps},
		{"npm", "package.json", parseNpmDeps},
		{"pip", "requirements.txt", parsePipDeps},
	}

	for _, eco := range ecosystems {
		if !golden.Has(eco.file) && !drift.Has(eco.file) {
			continue
		}
		goldenDeps := eco.parse(golden.Read(eco.file))
		driftDeps := eco.parse(drift.Read(eco.file))
		diff := diffVersionMaps(eco.name, goldenDeps, driftDeps)
		if len(diff.Added)+len(diff.Removed)+len(diff.Changed) > 0 {
			out[eco.name] = diff
		}
	}
	return out
}

func diffVersionMaps(ecosystem string, golden, drift map[string]string) *models.DependencyDiff {
	diff := &models.DependencyDiff{}

	names := make([]string, 0, len(drift))
	for name := range drift {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		newVer := drift[name]
		oldVer, existed := golden[name]
		switch {
		case !existed:
			diff.Added = append(diff.Added, models.DependencyChange{Ecosystem: ecosystem, Name: name, To: newVer})
		case oldVer != newVer:
			diff.Changed = append(diff.Changed, models.DependencyChange{Ecosystem: ecosystem, Name: name, From: oldVer, To: newVer})
		}
	}

	names = names[:0]
	for name := range golden {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, exists := drift[name]; !exists {
			diff.Removed = append(diff.Removed, models.DependencyChange{Ecosystem: ecosystem, Name: name, From: golden[name]})
		}
	}
	return diff
}

var propRef = regexp.MustCompile(`\$\{([^}]+)\}`)

type mavenPOM struct {
	Properties struct {
		Entries []mavenProperty `xml:",any"`
	} `xml:"properties"`
	Dependencies struct {
		Dependency []mavenDependency `xml:"dependency"`
	} `xml:"dependencies"`
}

type mavenProperty struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type mavenDependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

// parseMavenDeps extracts groupId:artifactId -> version, resolving
// ${property} references against the pom's properties block.
func parseMavenDeps(data []byte) map[string]string {
	out := make(map[string]string)
	if len(data) == 0 {
		return out
	}
	var pom mavenPOM
	if err := xml.Unmarshal(data, &pom); err != nil {
		return out
	}

	props := make(map[string]string, len(pom.Properties.Entries))
	for _, p := range pom.Properties.Entries {
		props[p.XMLName.Local] = strings.TrimSpace(p.Value)
	}

	for _, dep := range pom.Dependencies.Dependency {
		if dep.GroupID == "" || dep.ArtifactID == "" {
			continue
		}
		version := propRef.ReplaceAllStringFunc(dep.Version, func(ref string) string {
			name := ref[2 : len(ref)-1]
			if v, ok := props[name]; ok {
				return v
			}
			return ref
		})
		out[dep.GroupID+":"+dep.ArtifactID] = version
	}
	return out
}

// parseNpmDeps merges dependencies and devDependencies
func parseNpmDeps(data []byte) map[string]string {
	out := make(map[string]string)
	if len(data) == 0 {
		return out
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return out
	}
	for name, ver := range pkg.Dependencies {
		out[name] = ver
	}
	for name, ver := range pkg.DevDependencies {
		out[name] = ver
	}
	return out
}

// parsePipDeps reads == pins; unpinned requirements record an empty version
func parsePipDeps(data []byte) map[string]string {
	out := make(map[string]string)
	if len(data) == 0 {
		return out
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if i := strings.Index(line, "=="); i > 0 {
			out[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+2:])
		} else {
			name := strings.FieldsFunc(line, func(r rune) bool {
				return r == '>' || r == '<' || r == '~' || r == '!' || r == ';' || r == ' '
			})
			if len(name) > 0 {
				out[strings.TrimSpace(name[0])] = ""
			}
		}
	}
	return out
}
