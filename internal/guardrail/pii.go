package guardrail

import (
	"regexp"
	"sort"
	"strings"

	"github.com/catherinevee/driftcert/internal/models"
)

// piiPattern pairs a redaction type with its compiled pattern. Patterns
// are applied to delta old/new text; matches are replaced in reverse order
// so earlier offsets stay valid.
type piiPattern struct {
	Type    string
	Pattern *regexp.Regexp
}

var piiPatterns = []piiPattern{
	{"EMAIL", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"PHONE", regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?\(?\d{3}\)?[ .\-]\d{3}[ .\-]\d{4}\b`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"CREDIT_CARD", regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
	{"IBAN", regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)},
	{"AWS_ACCESS_KEY", regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"AWS_SECRET_KEY", regexp.MustCompile(`(?i)aws_secret[a-z_]*\s*[:=]\s*\S{30,}`)},
	{"GCP_KEY", regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`)},
	{"AZURE_KEY", regexp.MustCompile(`(?i)(?:accountkey|sharedaccesskey)\s*=\s*[A-Za-z0-9+/=]{40,}`)},
	{"GITLAB_TOKEN", regexp.MustCompile(`\bglpat-[0-9A-Za-z_\-]{20,}\b`)},
	{"GITHUB_TOKEN", regexp.MustCompile(`\bgh[pousr]_[0-9A-Za-z]{36,}\b`)},
	{"JWT", regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`)},
	{"PEM", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"API_KEY", regexp.MustCompile(`(?i)api[_\-]?key\s*[:=]\s*['"]?[^\s'"]{8,}`)},
	{"TOKEN", regexp.MustCompile(`(?i)(?:auth[_\-]?)?token\s*[:=]\s*['"]?[^\s'"]{8,}`)},
	{"PASSWORD", regexp.MustCompile(`(?i)passw(?:or)?d\s*[:=]\s*['"]?[^\s'"]+`)},
}

// sensitiveKeyTypes maps locator keypath fragments to a redaction type.
// Config deltas usually carry the bare value in old/new, so the keypath is
// the only evidence the value is a secret.
var sensitiveKeyTypes = []struct {
	Fragment string
	Type     string
}{
	{"password", "PASSWORD"},
	{"passwd", "PASSWORD"},
	{"api_key", "API_KEY"},
	{"apikey", "API_KEY"},
	{"secret", "SECRET"},
	{"token", "TOKEN"},
	{"credential", "CREDENTIAL"},
	{"private_key", "PRIVATE_KEY"},
}

type piiMatch struct {
	start int
	end   int
	typ   string
}

// RedactDelta sanitises one delta in place and returns the pii types found
func RedactDelta(delta *models.Delta) []string {
	types := make(map[string]bool)

	if keyType := sensitiveKeyType(delta.Locator.Value); keyType != "" {
		if delta.Old != nil && *delta.Old != "" {
			delta.Old = models.StrPtr("[REDACTED_" + keyType + "]")
			types[keyType] = true
		}
		if delta.New != nil && *delta.New != "" {
			delta.New = models.StrPtr("[REDACTED_" + keyType + "]")
			types[keyType] = true
		}
	}

	if delta.Old != nil {
		redacted, found := redactText(*delta.Old)
		delta.Old = models.StrPtr(redacted)
		for _, t := range found {
			types[t] = true
		}
	}
	if delta.New != nil {
		redacted, found := redactText(*delta.New)
		delta.New = models.StrPtr(redacted)
		for _, t := range found {
			types[t] = true
		}
	}
	if delta.Snippet != "" {
		redacted, found := redactText(delta.Snippet)
		delta.Snippet = redacted
		for _, t := range found {
			types[t] = true
		}
	}

	if len(types) == 0 {
		return nil
	}
	out := make([]string, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	sort.Strings(out)
	delta.PIIRedacted = true
	delta.PIITypes = out
	return out
}

func sensitiveKeyType(locator string) string {
	lower := strings.ToLower(locator)
	for _, sk := range sensitiveKeyTypes {
		if strings.Contains(lower, sk.Fragment) {
			return sk.Type
		}
	}
	return ""
}

// redactText replaces every pattern match with [REDACTED_<TYPE>], applying
// replacements from the end of the string backwards.
func redactText(text string) (string, []string) {
	if text == "" || strings.HasPrefix(text, "[REDACTED_") {
		return text, nil
	}

	var matches []piiMatch
	for _, pp := range piiPatterns {
		for _, loc := range pp.Pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, piiMatch{start: loc[0], end: loc[1], typ: pp.Type})
		}
	}
	if len(matches) == 0 {
		return text, nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].start > matches[j].start })

	types := make(map[string]bool)
	lastStart := len(text) + 1
	for _, m := range matches {
		if m.end > lastStart {
			continue // overlaps a replacement already applied
		}
		text = text[:m.start] + "[REDACTED_" + m.typ + "]" + text[m.end:]
		lastStart = m.start
		types[m.typ] = true
	}

	out := make([]string, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	sort.Strings(out)
	return text, out
}
