package providers

import (
	"os"
	"strings"
)

const groqBaseURL = "https://api.groq.com/openai/v1/"

// NewGroqProvider points the chat completions client at Groq's OpenAI-compatible API.
func NewGroqProvider(keyName string) *OpenAIProvider {
	model := os.Getenv("EXAMFORGE_GROQ_MODEL")
	if strings.TrimSpace(model) == "" {
		model = "llama-3.1-8b-instant"
	}
	return newChatProvider("groq", keyName, resolveKey("GROQ", keyName), model, groqBaseURL)
}
