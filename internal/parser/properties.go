package parser

import (
	"bufio"
	"bytes"
	"strings"
)

// flattenProperties scans key=value lines. INI mode prefixes keys with the
// enclosing [section]. Continuation lines and exotic escapes are out of scope;
// the locator needs line fidelity more than full java.util.Properties parity.
func flattenProperties(data []byte, ini bool) map[string]string {
	out := make(map[string]string)
	section := ""

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if ini && strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		sep := strings.IndexAny(line, "=:")
		if sep < 0 {
			continue
		}
		key := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if key == "" {
			continue
		}
		if ini && section != "" {
			key = section + "." + key
		}
		out[key] = value
	}
	return out
}
