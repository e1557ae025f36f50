package triage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/catherinevee/driftcert/internal/models"
)

// responseSchema pins the categoriser's contract: the four buckets must be
// present; high/medium/low items carry reviewer guidance, allowed_variance
// items do not need it.
const responseSchema = `{
  "type": "object",
  "required": ["high", "medium", "low", "allowed_variance"],
  "properties": {
    "high": {"type": "array", "items": {"$ref": "#/$defs/reviewed"}},
    "medium": {"type": "array", "items": {"$ref": "#/$defs/reviewed"}},
    "low": {"type": "array", "items": {"$ref": "#/$defs/reviewed"}},
    "allowed_variance": {"type": "array", "items": {"$ref": "#/$defs/item"}}
  },
  "$defs": {
    "item": {
      "type": "object",
      "required": ["id", "file", "locator"],
      "properties": {
        "id": {"type": "string"},
        "file": {"type": "string"},
        "locator": {"type": "string"},
        "why": {"type": "string"},
        "rationale": {"type": "string"}
      }
    },
    "reviewed": {
      "type": "object",
      "required": ["id", "file", "locator", "ai_review_assistant"],
      "properties": {
        "id": {"type": "string"},
        "file": {"type": "string"},
        "locator": {"type": "string"},
        "why": {"type": "string"},
        "rationale": {"type": "string"},
        "remediation": {
          "type": "object",
          "required": ["snippet"],
          "properties": {"snippet": {"type": "string"}}
        },
        "ai_review_assistant": {
          "type": "object",
          "required": ["potential_risk", "suggested_action"],
          "properties": {
            "potential_risk": {"type": "string"},
            "suggested_action": {"type": "string"}
          }
        }
      }
    }
  }
}`

func compileResponseSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("triage.json", strings.NewReader(responseSchema)); err != nil {
		return nil, err
	}
	return c.Compile("triage.json")
}

type batchResponse struct {
	High            []models.TriagedDelta `json:"high"`
	Medium          []models.TriagedDelta `json:"medium"`
	Low             []models.TriagedDelta `json:"low"`
	AllowedVariance []models.TriagedDelta `json:"allowed_variance"`
}

// parseResponse tries the recovery ladder: direct JSON, fenced/embedded JSON
// extraction, then a lenient decode that skips schema validation.
func parseResponse(schema *jsonschema.Schema, text string) (*batchResponse, error) {
	if out, err := decodeValidated(schema, text); err == nil {
		return out, nil
	}

	cleaned := extractJSON(text)
	if cleaned != "" && cleaned != text {
		if out, err := decodeValidated(schema, cleaned); err == nil {
			return out, nil
		}
	}

	lenient := cleaned
	if lenient == "" {
		lenient = text
	}
	var out batchResponse
	if err := json.Unmarshal([]byte(lenient), &out); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	return &out, nil
}

func decodeValidated(schema *jsonschema.Schema, text string) (*batchResponse, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}
	if err := schema.Validate(raw); err != nil {
		return nil, err
	}
	var out batchResponse
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON strips markdown fences or pulls the first balanced object out
// of surrounding prose.
func extractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
