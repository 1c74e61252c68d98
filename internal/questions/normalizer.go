package questions

import (
	"regexp"
	"strings"

	"examforge/internal/models"
	"examforge/internal/util"
)

var ws = regexp.MustCompile(`\s+`)

// CanonicalStem is the comparison key for duplicate detection.
func CanonicalStem(s string) string {
	s = strings.TrimSpace(strings.ToLower(util.SanitizeText(s)))
	s = strings.Trim(s, "?.!:")
	s = ws.ReplaceAllString(s, " ")
	return s
}

// Normalize tidies one parsed question. Questions without a stem or an answer
// cannot be used and are reported as not ok.
func Normalize(q models.Question) (models.Question, bool) {
	q.Stem = strings.TrimSpace(ws.ReplaceAllString(util.SanitizeText(q.Stem), " "))
	q.Answer = strings.TrimSpace(util.SanitizeText(q.Answer))
	q.Explanation = strings.TrimSpace(util.SanitizeText(q.Explanation))
	q.Difficulty = strings.ToLower(strings.TrimSpace(q.Difficulty))
	if q.Stem == "" || q.Answer == "" {
		return models.Question{}, false
	}
	opts := make([]string, 0, len(q.Options))
	seen := map[string]struct{}{}
	for _, o := range q.Options {
		o = strings.TrimSpace(util.SanitizeText(o))
		if o == "" {
			continue
		}
		k := strings.ToLower(o)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		opts = append(opts, o)
	}
	if len(opts) == 0 {
		opts = nil
	}
	q.Options = opts
	q.Selected = false
	return q, true
}
