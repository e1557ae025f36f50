package parser

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/catherinevee/driftcert/internal/logger"
)

// Flatten parses a config file into a flat keypath -> scalar map.
// Unparseable input yields an empty map and a warning, never an error:
// a broken file upstream must not abort the drift computation.
func Flatten(filePath string, data []byte) map[string]string {
	ext := strings.ToLower(path.Ext(filePath))
	base := strings.ToLower(path.Base(filePath))

	var (
		parsed interface{}
		err    error
	)

	switch {
	case ext == ".yml" || ext == ".yaml":
		err = yaml.Unmarshal(data, &parsed)
	case ext == ".json":
		err = json.Unmarshal(data, &parsed)
	case ext == ".toml":
		err = toml.Unmarshal(data, &parsed)
	case ext == ".properties" || ext == ".env" || ext == ".mf" || base == ".env":
		return flattenProperties(data, false)
	case ext == ".ini" || ext == ".cfg" || ext == ".conf":
		return flattenProperties(data, true)
	case ext == ".xml":
		return flattenXML(data)
	default:
		// Treat unknown formats as opaque.
		return map[string]string{}
	}

	if err != nil {
		logger.New("parser").Warn("unparseable config treated as empty",
			logger.String("file", filePath), logger.Err(err))
		return map[string]string{}
	}

	out := make(map[string]string)
	flattenValue("", parsed, out)
	return out
}

// flattenValue walks maps and lists, dot-joining keys and [n]-indexing lists
func flattenValue(prefix string, v interface{}, out map[string]string) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			flattenValue(joinKey(prefix, k), child, out)
		}
	case map[interface{}]interface{}:
		for k, child := range val {
			flattenValue(joinKey(prefix, fmt.Sprint(k)), child, out)
		}
	case []interface{}:
		for i, child := range val {
			flattenValue(fmt.Sprintf("%s[%d]", prefix, i), child, out)
		}
	case nil:
		if prefix != "" {
			out[prefix] = ""
		}
	default:
		if prefix != "" {
			out[prefix] = scalarString(val)
		}
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers arrive as float64; render integers without the decimal point.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(v)
	}
}

// SortedKeys returns the map's keys in lexical order for deterministic output
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LineOf returns the 1-based line of the first non-comment occurrence of the
// leaf key name in the source text, or 0 when not found. Downstream locators
// attach it as line_start.
func LineOf(data []byte, keypath string) int {
	leaf := keypath
	if i := strings.LastIndexAny(leaf, "."); i >= 0 {
		leaf = leaf[i+1:]
	}
	if i := strings.Index(leaf, "["); i > 0 {
		leaf = leaf[:i]
	}
	if leaf == "" {
		return 0
	}

	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isCommentLine(trimmed) {
			continue
		}
		if strings.Contains(line, leaf) {
			return i + 1
		}
	}
	return 0
}

func isCommentLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, ";") ||
		strings.HasPrefix(trimmed, "<!--")
}

// CommentPrefixes returns the line-comment markers for a file, used by the
// drift engine to drop comment-only hunks.
func CommentPrefixes(filePath string) []string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".yml", ".yaml", ".properties", ".toml", ".env", ".conf", ".cfg":
		return []string{"#"}
	case ".ini":
		return []string{";", "#"}
	case ".xml":
		return []string{"<!--"}
	case ".json":
		return nil // JSON has no comments
	default:
		return []string{"#", "//"}
	}
}
