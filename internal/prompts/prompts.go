package prompts

import (
	"fmt"
	"strings"

	"examforge/internal/models"
	"examforge/internal/util"
)

// Version is bumped whenever the template text changes so audit rows can be grouped by it.
const Version = "v1"

const questionTemplate = `Write %d exam questions for the section %q.
%s
Output STRICT JSON: an array of objects with this schema:
[
  {
    "stem": "the question text",
    "options": ["A", "B", "C", "D"],
    "answer": "the correct option, verbatim",
    "explanation": "one or two sentences",
    "difficulty": "easy|medium|hard"
  }
]

Rules:
- Emit exactly %d questions.
- answer must equal one of options when options are present.
- Mix difficulties, roughly %s.
- Do not repeat a question, and do not reuse any stem listed under "Avoid".
`

// Request describes one generation call. Source is nil for a single-pool call.
type Request struct {
	Section models.Section
	Source  *models.Source
	Count   int
	Avoid   []string
}

const maxAvoid = 30

func Build(r Request) string {
	title := strings.TrimSpace(r.Section.Title)
	if title == "" {
		title = "General"
	}
	scope := "Cover the subject broadly."
	if r.Source != nil {
		scope = fmt.Sprintf("Restrict every question to the chapter %q.", strings.TrimSpace(r.Source.Title))
		if k := strings.TrimSpace(r.Source.Knowledge); k != "" {
			scope += "\nChapter notes:\n" + util.TruncateRunes(k, 4000)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, questionTemplate, r.Count, title, scope, r.Count, difficultyMix(r.Count))
	if len(r.Avoid) > 0 {
		avoid := r.Avoid
		if len(avoid) > maxAvoid {
			avoid = avoid[len(avoid)-maxAvoid:]
		}
		b.WriteString("\nAvoid:\n")
		for _, s := range avoid {
			b.WriteString("- ")
			b.WriteString(util.TruncateRunes(s, 200))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Hash identifies the rendered prompt in the generation call log.
func Hash(prompt string) string {
	return fmt.Sprintf("question_prompt_%s_%s", Version, util.Fingerprint(16, prompt))
}

func difficultyMix(n int) string {
	if n < 3 {
		return "any difficulty"
	}
	easy := n * 3 / 10
	hard := n * 2 / 10
	return fmt.Sprintf("%d easy, %d medium, %d hard", easy, n-easy-hard, hard)
}
