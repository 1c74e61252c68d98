package providers

import (
	"context"
	"testing"
)

func TestGroqProviderWithoutKeyFailsFast(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("EXAMFORGE_GROQ_KEY_ALIAS1", "")
	p := NewGroqProvider("alias1")
	if p == nil {
		t.Fatalf("expected provider instance")
	}
	_, info, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if err == nil {
		t.Fatalf("expected missing key error")
	}
	if info.Name != "groq" || info.Model == "" {
		t.Fatalf("unexpected provider info: %+v", info)
	}
}

func TestResolveKeyPrefersAlias(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "default")
	t.Setenv("EXAMFORGE_OPENAI_KEY_TEAM", "team-key")
	if got := resolveKey("OPENAI", "team"); got != "team-key" {
		t.Fatalf("got %q", got)
	}
	if got := resolveKey("OPENAI", ""); got != "default" {
		t.Fatalf("got %q", got)
	}
}
