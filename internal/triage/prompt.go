package triage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/catherinevee/driftcert/internal/models"
)

const systemPrompt = `You are a configuration drift reviewer for a service fleet.
You receive configuration deltas between a certified golden baseline and the
current state of a service. Categorise every delta into exactly one of four
buckets by operational risk:

- high: security-sensitive, data-loss-capable, or production-breaking changes
- medium: behavioural changes that alter runtime characteristics
- low: cosmetic or safely tunable changes
- allowed_variance: expected environment-specific differences

Respond with a single JSON object and nothing else. Top-level keys must be
exactly "high", "medium", "low" and "allowed_variance", each an array.
Every item must carry "id", "file" and "locator" copied verbatim from the
input, plus a short "why". Items in high, medium and low must also carry
"ai_review_assistant" with "potential_risk" and "suggested_action", and may
carry "remediation" with a "snippet". Do not invent deltas that are not in
the input. Every input delta must appear in exactly one bucket.`

type promptDelta struct {
	ID        string  `json:"id"`
	Category  string  `json:"category"`
	File      string  `json:"file"`
	Locator   string  `json:"locator"`
	Old       *string `json:"old"`
	New       *string `json:"new"`
	RiskHint  string  `json:"risk_hint,omitempty"`
	PolicyTag string  `json:"policy_tag,omitempty"`
	Snippet   string  `json:"snippet,omitempty"`
}

// buildPrompt renders one batch as the user prompt
func buildPrompt(serviceID, environment string, batch []models.Delta) string {
	items := make([]promptDelta, 0, len(batch))
	for _, d := range batch {
		pd := promptDelta{
			ID:       d.ID,
			Category: string(d.Category),
			File:     d.File,
			Locator:  d.Locator.Value,
			Old:      d.Old,
			New:      d.New,
			RiskHint: string(d.RiskLevel),
			Snippet:  truncate(d.Snippet, 2000),
		}
		if d.Policy != nil {
			pd.PolicyTag = string(d.Policy.Tag)
		}
		items = append(items, pd)
	}
	encoded, _ := json.MarshalIndent(items, "", "  ")

	var sb strings.Builder
	fmt.Fprintf(&sb, "Service: %s\nEnvironment: %s\nDeltas (%d):\n", serviceID, environment, len(batch))
	sb.Write(encoded)
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}
