package prompts

import (
	"strings"
	"testing"

	"examforge/internal/models"

	"github.com/stretchr/testify/require"
)

func TestBuildSinglePool(t *testing.T) {
	p := Build(Request{Section: models.Section{Title: "Algebra"}, Count: 10})
	require.Contains(t, p, `Write 10 exam questions for the section "Algebra".`)
	require.Contains(t, p, "Cover the subject broadly.")
	require.Contains(t, p, "3 easy, 5 medium, 2 hard")
	require.NotContains(t, p, "Avoid:")
}

func TestBuildForSourceIncludesChapterNotes(t *testing.T) {
	src := &models.Source{SourceID: "c1", Title: "Cells", Knowledge: "Mitochondria produce ATP."}
	p := Build(Request{Section: models.Section{}, Source: src, Count: 2, Avoid: []string{"What is a cell?"}})
	require.Contains(t, p, `"General"`)
	require.Contains(t, p, `chapter "Cells"`)
	require.Contains(t, p, "Mitochondria produce ATP.")
	require.Contains(t, p, "any difficulty")
	require.True(t, strings.HasSuffix(p, "- What is a cell?\n"))
}

func TestHashIsStable(t *testing.T) {
	a := Hash("same prompt")
	require.Equal(t, a, Hash("same prompt"))
	require.NotEqual(t, a, Hash("other prompt"))
	require.True(t, strings.HasPrefix(a, "question_prompt_v1_"))
}
