package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"examforge/internal/config"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

// Manager holds the configured generation providers in preference order and
// is itself an LLMProvider that fails over on quota and rate errors.
type Manager struct {
	llmProviders []NamedLLMProvider
}

func NewManager(cfg config.Config) (*Manager, error) {
	m := &Manager{}
	for _, ref := range ParseProviderList(cfg.LLMProviders) {
		p, err := buildProvider(ref)
		if err != nil {
			return nil, err
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: p})
	}
	if len(m.llmProviders) == 0 {
		m.llmProviders = []NamedLLMProvider{{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider()}}
	}
	return m, nil
}

// NewManagerWith wraps already built providers, mostly for tests.
func NewManagerWith(ps ...NamedLLMProvider) *Manager {
	return &Manager{llmProviders: ps}
}

func (m *Manager) LLMProviderByIndex(i int) (LLMProvider, ProviderRef) {
	if len(m.llmProviders) == 0 {
		return NewMockProvider(), ProviderRef{Raw: "mock", Name: "mock"}
	}
	if i < 0 || i >= len(m.llmProviders) {
		i = 0
	}
	return m.llmProviders[i].Provider, m.llmProviders[i].Ref
}

func (m *Manager) LLMCount() int {
	return len(m.llmProviders)
}

func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
}

func (m *Manager) FindLLMProviderByName(name string) (LLMProvider, ProviderRef, bool) {
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return nil, ProviderRef{}, false
	}
	for i := range m.llmProviders {
		if strings.ToLower(m.llmProviders[i].Ref.Name) == target {
			return m.llmProviders[i].Provider, m.llmProviders[i].Ref, true
		}
	}
	return nil, ProviderRef{}, false
}

func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	var (
		lastInfo ProviderInfo
		lastErr  error
	)
	for _, i := range m.PreferredLLMOrder() {
		p, ref := m.LLMProviderByIndex(i)
		resp, info, err := p.Generate(ctx, req)
		if err == nil {
			return resp, info, nil
		}
		lastInfo, lastErr = info, fmt.Errorf("llm generate via %s failed: %w", ref.Raw, err)
		if !ClassifyError(err).Failover() || ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no llm providers configured")
	}
	return GenerateResponse{}, lastInfo, lastErr
}

func (m *Manager) Close() error {
	var errs []error
	for _, p := range m.llmProviders {
		if c, ok := p.Provider.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

func buildProvider(ref ProviderRef) (LLMProvider, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	case "gemini":
		return NewGeminiProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
