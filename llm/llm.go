// Package llm adapts a github.com/tmc/langchaingo llms.Model into the
// domain.LLM interface the memory engine's components depend on. Grounded on
// the teacher's rag/pipeline.go generateNode (message assembly, single
// GenerateContent call, first-choice extraction).
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// Model wraps any langchaingo llms.Model to satisfy internal/domain.LLM.
type Model struct {
	Backend      llms.Model
	SystemPrompt string
}

// New wraps backend with an optional system prompt prepended to every call.
func New(backend llms.Model, systemPrompt string) *Model {
	return &Model{Backend: backend, SystemPrompt: systemPrompt}
}

// Chat sends prompt as a single human turn and returns the first choice's
// content. langchaingo's ContentChoice carries no separate reasoning field,
// so reasoning is always empty; domain.LLM keeps the field for backends that
// do surface one.
func (m *Model) Chat(ctx context.Context, prompt string) (content string, reasoning string, err error) {
	messages := []llms.MessageContent{}
	if m.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, m.SystemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	resp, err := m.Backend.GenerateContent(ctx, messages)
	if err != nil {
		return "", "", fmt.Errorf("llm: generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("llm: empty response")
	}
	return resp.Choices[0].Content, "", nil
}
