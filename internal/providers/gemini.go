package providers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider generates through Google Gemini. The client is created lazily
// because genai.NewClient needs a context.
type GeminiProvider struct {
	keyName string
	apiKey  string
	model   string

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiProvider(keyName string) *GeminiProvider {
	model := os.Getenv("EXAMFORGE_GEMINI_MODEL")
	if strings.TrimSpace(model) == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiProvider{keyName: keyName, apiKey: resolveKey("GEMINI", keyName), model: model}
}

func (g *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "gemini", Model: g.model, Key: g.keyName}
	if g.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("gemini key missing for alias %q", g.keyName)
	}
	client, err := g.ensureClient(ctx)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	model := client.GenerativeModel(g.model)
	model.SetTemperature(0.4)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(questionWriterSystemPrompt))

	resp, err := model.GenerateContent(ctx, genai.Text(withContext(req)))
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("gemini generate request failed: %w", err)
	}
	out := GenerateResponse{Text: geminiText(resp)}
	if resp.UsageMetadata != nil {
		out.Usage = usageFrom(int64(resp.UsageMetadata.PromptTokenCount), int64(resp.UsageMetadata.CandidatesTokenCount))
	}
	return out, info, nil
}

func (g *GeminiProvider) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

func (g *GeminiProvider) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = c
	return c, nil
}

// geminiText joins the text parts of the first candidate. An empty string is
// returned as-is; callers treat it as an empty response.
func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
