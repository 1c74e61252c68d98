package providers

import (
	"context"

	"examforge/internal/models"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type GenerateRequest struct {
	Operation string `json:"operation"`
	Prompt    string `json:"prompt"`
	// Context carries reference excerpts appended after the prompt.
	Context []string `json:"context"`
	// Count is the number of items the prompt asks for. Only the mock honours it directly.
	Count int `json:"count"`
}

type GenerateResponse struct {
	Text  string       `json:"text"`
	Usage models.Usage `json:"usage"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}
