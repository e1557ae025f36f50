package guardrail

import (
	"regexp"
	"strings"

	"github.com/catherinevee/driftcert/internal/models"
)

// intentPattern is one malicious-shape rule applied to delta text
type intentPattern struct {
	Name     string
	Pattern  *regexp.Regexp
	Severity models.Severity
	ProdOnly bool
}

var intentPatterns = []intentPattern{
	{"sql_injection", regexp.MustCompile(`(?i)('\s*;\s*drop\s+table|'\s*or\s+'?1'?\s*=\s*'?1|union\s+select|;\s*delete\s+from|;\s*truncate\s+)`), models.SeverityCritical, false},
	{"shell_injection", regexp.MustCompile("(?i)(;\\s*rm\\s+-rf|\\$\\([^)]*\\)|`[^`]+`|\\|\\s*(?:bash|sh)\\b|&&\\s*curl\\s+[^|]*\\|\\s*(?:bash|sh))"), models.SeverityCritical, false},
	{"backdoor_port", regexp.MustCompile(`(?i)port\s*[:=]\s*["']?(4444|31337|1337|6666|6667|12345|54321)\b`), models.SeverityHigh, false},
	{"debug_in_production", regexp.MustCompile(`(?i)debug\s*[:=]\s*["']?true\b`), models.SeverityMedium, true},
	{"wildcard_cors", regexp.MustCompile(`(?i)(access-control-allow-origin\s*[:=]\s*["']?\*|cors[a-z._\-]*\s*[:=]\s*["']?\*)`), models.SeverityMedium, false},
	{"tls_disabled", regexp.MustCompile(`(?i)((?:ssl|tls)[a-z._\-]*\s*[:=]\s*["']?(false|disabled?|none)\b|verify[a-z._\-]*\s*[:=]\s*["']?false\b|insecure[a-z._\-]*\s*[:=]\s*["']?true\b)`), models.SeverityHigh, false},
	{"auth_disabled", regexp.MustCompile(`(?i)(auth[a-z._\-]*(?:enabled)?\s*[:=]\s*["']?(false|none|disabled?)\b|security[a-z._\-]*\s*[:=]\s*["']?(false|disabled?)\b)`), models.SeverityHigh, false},
}

var severityRank = map[models.Severity]int{
	models.SeverityNone:     0,
	models.SeverityLow:      1,
	models.SeverityMedium:   2,
	models.SeverityHigh:     3,
	models.SeverityCritical: 4,
}

func maxSeverity(a, b models.Severity) models.Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// ScanIntent annotates one delta with a malicious-pattern verdict and
// returns the patterns it hit. Production-shaped rules only fire when the
// run environment is prod.
func ScanIntent(delta *models.Delta, environment string) []models.IntentFinding {
	haystack := delta.Locator.Value + "\n" +
		models.StrOrEmpty(delta.Old) + "\n" +
		models.StrOrEmpty(delta.New) + "\n" +
		delta.Snippet

	isProd := strings.EqualFold(environment, "prod") || strings.EqualFold(environment, "production")

	var findings []models.IntentFinding
	guard := models.IntentGuard{Severity: models.SeverityNone}
	for _, ip := range intentPatterns {
		if ip.ProdOnly && !isProd {
			continue
		}
		if !ip.Pattern.MatchString(haystack) {
			continue
		}
		guard.Suspicious = true
		guard.PatternsDetected = append(guard.PatternsDetected, ip.Name)
		guard.Severity = maxSeverity(guard.Severity, ip.Severity)
		findings = append(findings, models.IntentFinding{
			DeltaID:  delta.ID,
			Pattern:  ip.Name,
			Severity: ip.Severity,
		})
	}
	delta.IntentGuard = &guard
	return findings
}
