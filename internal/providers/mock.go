package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const defaultMockCount = 5

type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Generate returns Count deterministic questions derived from the prompt hash,
// so repeated runs over the same input produce the same items.
func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	_ = ctx
	n := req.Count
	if n <= 0 {
		n = defaultMockCount
	}
	type mockQuestion struct {
		Stem        string   `json:"stem"`
		Options     []string `json:"options"`
		Answer      string   `json:"answer"`
		Explanation string   `json:"explanation"`
		Difficulty  string   `json:"difficulty"`
	}
	difficulties := []string{"easy", "medium", "hard"}
	out := make([]mockQuestion, 0, n)
	for i := 0; i < n; i++ {
		seed := deterministicSeed(req.Prompt, i)
		a, b := seed%97+1, (seed/97)%89+1
		sum := fmt.Sprint(a + b)
		out = append(out, mockQuestion{
			Stem:        fmt.Sprintf("Question %d: what is %d + %d?", i+1, a, b),
			Options:     []string{sum, fmt.Sprint(a + b + 1), fmt.Sprint(a + b + 2), fmt.Sprint(a*b + 3)},
			Answer:      sum,
			Explanation: fmt.Sprintf("%d plus %d equals %s.", a, b, sum),
			Difficulty:  difficulties[seed%3],
		})
	}
	body, err := json.Marshal(out)
	if err != nil {
		return GenerateResponse{}, ProviderInfo{Name: "mock"}, fmt.Errorf("encode mock questions: %w", err)
	}
	return GenerateResponse{
		Text:  string(body),
		Usage: usageFrom(int64(len(req.Prompt)/4), int64(len(body)/4)),
	}, ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}, nil
}

func deterministicSeed(input string, i int) uint32 {
	h := sha256.Sum256(append([]byte(input), byte(i%251), byte(i/251)))
	return binary.BigEndian.Uint32(h[:4])
}
