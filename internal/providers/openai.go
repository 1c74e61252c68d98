package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"examforge/internal/models"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const questionWriterSystemPrompt = "You write exam questions for teachers. Reply with a JSON array of question objects only, no prose."

// OpenAIProvider talks to the OpenAI chat completions API. It also backs any
// OpenAI-compatible endpoint, see NewGroqProvider.
type OpenAIProvider struct {
	name    string
	keyName string
	apiKey  string
	model   string
	client  openai.Client
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	model := os.Getenv("EXAMFORGE_OPENAI_MODEL")
	if strings.TrimSpace(model) == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return newChatProvider("openai", keyName, resolveKey("OPENAI", keyName), model, "")
}

func newChatProvider(name, keyName, apiKey, model, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
		// retries are owned by the generation executor
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		name:    name,
		keyName: keyName,
		apiKey:  apiKey,
		model:   model,
		client:  openai.NewClient(opts...),
	}
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: o.name, Model: o.model, Key: o.keyName}
	if o.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("%s key missing for alias %q", o.name, o.keyName)
	}
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(questionWriterSystemPrompt),
			openai.UserMessage(withContext(req)),
		},
	})
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("%s generate request failed: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return GenerateResponse{}, info, fmt.Errorf("%s returned empty choices", o.name)
	}
	return GenerateResponse{
		Text:  resp.Choices[0].Message.Content,
		Usage: usageFrom(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, info, nil
}

func withContext(req GenerateRequest) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	return req.Prompt + "\n\nReference material:\n" + strings.Join(req.Context, "\n\n")
}

func resolveKey(provider, alias string) string {
	if alias != "" {
		if k := os.Getenv("EXAMFORGE_" + provider + "_KEY_" + strings.ToUpper(alias)); k != "" {
			return k
		}
	}
	return os.Getenv(provider + "_API_KEY")
}

func usageFrom(prompt, completion int64) models.Usage {
	return models.Usage{PromptTokens: prompt, CompletionTokens: completion}
}
