package questions

import (
	"encoding/json"
	"fmt"
	"strings"

	"examforge/internal/generation"
	"examforge/internal/models"
)

// Parse turns the generation service's text into questions. Both a bare JSON
// array and an object with a "questions" array are accepted; code fences
// around the payload are ignored. Duplicate stems inside one response are
// dropped.
func Parse(raw string) ([]models.Question, error) {
	raw = stripCodeFence(strings.TrimSpace(raw))
	if raw == "" {
		return nil, fmt.Errorf("empty payload: %w", generation.ErrParse)
	}
	var list []models.Question
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, fmt.Errorf("decode question array: %w: %v", generation.ErrParse, err)
		}
	} else {
		var payload struct {
			Questions []models.Question `json:"questions"`
		}
		if err := json.Unmarshal([]byte(extractObject(raw)), &payload); err != nil {
			return nil, fmt.Errorf("decode question object: %w: %v", generation.ErrParse, err)
		}
		list = payload.Questions
	}

	out := make([]models.Question, 0, len(list))
	seen := map[string]struct{}{}
	for _, q := range list {
		n, ok := Normalize(q)
		if !ok {
			continue
		}
		k := CanonicalStem(n.Stem)
		if _, exists := seen[k]; exists {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

func stripCodeFence(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// extractObject trims chatter before the first '{' and after the last '}'.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
