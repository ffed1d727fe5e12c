package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"github.com/hldesk/hldesk/internal/domain"
)

// rawDecision is the shape the model is asked to produce.
type rawDecision struct {
	Action    string  `json:"action"`
	Asset     string  `json:"asset"`
	SizeUsd   float64 `json:"size_usd"`
	Reasoning string  `json:"reasoning"`
}

// parseDecision extracts the first JSON object from model output, tolerating
// markdown fences, prose around the object and minor JSON damage.
func parseDecision(text string) (rawDecision, error) {
	var decision rawDecision

	candidate := firstJSONObject(text)
	if candidate == "" {
		return decision, fmt.Errorf("no JSON object in model output")
	}

	if err := json.Unmarshal([]byte(candidate), &decision); err != nil {
		repaired, repairErr := jsonrepair.RepairJSON(candidate)
		if repairErr != nil {
			return decision, fmt.Errorf("unparseable decision JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &decision); err != nil {
			return decision, fmt.Errorf("unparseable decision JSON after repair: %w", err)
		}
	}

	decision.Action = strings.ToLower(strings.TrimSpace(decision.Action))
	decision.Asset = strings.ToUpper(strings.TrimSpace(decision.Asset))
	if !domain.ValidAction(decision.Action) {
		return decision, fmt.Errorf("invalid action %q", decision.Action)
	}
	return decision, nil
}

// firstJSONObject returns the first brace-balanced object in the text,
// ignoring braces inside string literals.
func firstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	// Unterminated object; hand the tail to the repairer.
	return text[start:]
}
