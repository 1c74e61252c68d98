package providers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockProviderIsDeterministic(t *testing.T) {
	m := NewMockProvider()
	req := GenerateRequest{Operation: "section_batch", Prompt: "Chapter 3: fractions", Count: 7}
	first, info, err := m.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "mock", info.Name)
	second, _, err := m.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.Text, second.Text)

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(first.Text), &items))
	require.Len(t, items, 7)
	require.Positive(t, first.Usage.CompletionTokens)
}
