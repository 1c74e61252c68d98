package providers

import (
	"context"
	"errors"
	"testing"

	"examforge/internal/config"

	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	name  string
	err   error
	calls int
}

func (s *scriptedProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	s.calls++
	if s.err != nil {
		return GenerateResponse{}, ProviderInfo{Name: s.name}, s.err
	}
	return GenerateResponse{Text: "[]"}, ProviderInfo{Name: s.name}, nil
}

func TestManagerFailsOverOnQuota(t *testing.T) {
	first := &scriptedProvider{name: "openai", err: errors.New("insufficient_quota")}
	second := &scriptedProvider{name: "groq"}
	m := NewManagerWith(
		NamedLLMProvider{Ref: ProviderRef{Raw: "openai", Name: "openai"}, Provider: first},
		NamedLLMProvider{Ref: ProviderRef{Raw: "groq", Name: "groq"}, Provider: second},
	)
	_, info, err := m.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, "groq", info.Name)
	require.Equal(t, 1, first.calls)
	require.Equal(t, 1, second.calls)
}

func TestManagerStopsOnTimeout(t *testing.T) {
	first := &scriptedProvider{name: "openai", err: errors.New("request timeout")}
	second := &scriptedProvider{name: "groq"}
	m := NewManagerWith(
		NamedLLMProvider{Ref: ProviderRef{Raw: "openai", Name: "openai"}, Provider: first},
		NamedLLMProvider{Ref: ProviderRef{Raw: "groq", Name: "groq"}, Provider: second},
	)
	_, _, err := m.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.ErrorContains(t, err, "timeout")
	require.Equal(t, 0, second.calls)
}

func TestNewManagerPrefersRealProvidersOverMock(t *testing.T) {
	m, err := NewManager(config.Config{LLMProviders: "mock|gemini:team|groq"})
	require.NoError(t, err)
	require.Equal(t, 3, m.LLMCount())
	require.Equal(t, []int{1, 2, 0}, m.PreferredLLMOrder())
	_, ref, ok := m.FindLLMProviderByName("GROQ")
	require.True(t, ok)
	require.Equal(t, "groq", ref.Raw)

	_, err = NewManager(config.Config{LLMProviders: "ollama"})
	require.Error(t, err)
}
