// Package domain holds the small set of types and collaborator interfaces shared
// across the memory engine's components. None of these are owned by this module:
// a message store, an LLM, and a formatter are external collaborators consumed by
// interface only (spec §1, §6).
package domain

import "context"

// Message is one chat message as handed back by the message-store collaborator.
// MemorizedTimes tracks how many times a snippet containing this message has
// already been accepted by the build pipeline; the Scheduler rejects any
// snippet containing a message whose count has reached MessageCapReached.
type Message struct {
	MessageID      string
	ChatID         string
	Timestamp      float64
	Text           string
	Sender         string
	MemorizedTimes int
}

// MessageCapReached is the memorized_times value at which a message can no
// longer be reused as part of a new build snippet.
const MessageCapReached = 2

// MessageStore is the chat-history collaborator. It is out of scope for this
// module (spec §1) and consumed by interface only.
type MessageStore interface {
	// GetEarliest returns, in timestamp order, up to limit messages in
	// [start, end], optionally restricted to chatID.
	GetEarliest(ctx context.Context, start, end float64, limit int, chatID string) ([]Message, error)

	// IncrementMemorizedTimes atomically bumps the counter for every message id.
	// Two concurrent acceptances of overlapping snippets must not double-count
	// (spec §5 "shared resources").
	IncrementMemorizedTimes(ctx context.Context, messageIDs []string) error
}

// LLM is the chat-completion collaborator (spec §6: LLM.chat(prompt) → (content,
// reasoning?); may raise, caller handles). Out of scope: this module only depends
// on the interface; a concrete backend is wired in the sibling llm package.
type LLM interface {
	Chat(ctx context.Context, prompt string) (content string, reasoning string, err error)
}

// Formatter renders a window of messages to human-readable text for LLM prompts.
type Formatter interface {
	BuildReadable(messages []Message, merge bool, timestampMode string, replaceBotName string) (string, error)
}
