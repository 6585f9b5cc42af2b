// Package chat defines the conversation and request types shared by every
// stage that talks to a text-generation endpoint.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered list of messages.
type Conversation []Message

// NewConversation returns the two-message shape every request uses:
// a fixed system instruction followed by a task-specific user payload.
func NewConversation(system, user string) Conversation {
	return Conversation{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
}

// System returns the content of the leading system message, if any.
func (c Conversation) System() string {
	if len(c) > 0 && c[0].Role == RoleSystem {
		return c[0].Content
	}
	return ""
}

// User returns the content of the trailing user message, if any.
func (c Conversation) User() string {
	if n := len(c); n > 0 && c[n-1].Role == RoleUser {
		return c[n-1].Content
	}
	return ""
}

// Chars returns the total number of characters across all messages.
func (c Conversation) Chars() int {
	n := 0
	for _, m := range c {
		n += len([]rune(m.Content))
	}
	return n
}

// Validate checks the conversation is exactly [system, user].
func (c Conversation) Validate() error {
	if len(c) != 2 {
		return fmt.Errorf("conversation: want 2 messages, got %d", len(c))
	}
	if c[0].Role != RoleSystem {
		return fmt.Errorf("conversation: first message role %q, want %q", c[0].Role, RoleSystem)
	}
	if c[1].Role != RoleUser {
		return fmt.Errorf("conversation: second message role %q, want %q", c[1].Role, RoleUser)
	}
	if c[1].Content == "" {
		return errors.New("conversation: empty user message")
	}
	return nil
}

// RequestConfig holds the per-call settings for one logical request.
// It is passed by value and never mutated by the callee.
type RequestConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int

	// Timeout bounds a single attempt, not the whole request.
	Timeout time.Duration

	// Retry settings
	MaxRetries  int
	BackoffBase time.Duration
}

// Attempts returns the total number of attempts the config allows.
func (c RequestConfig) Attempts() int {
	if c.MaxRetries < 0 {
		return 1
	}
	return c.MaxRetries + 1
}

// Executor issues one logical request and returns the generated text.
type Executor interface {
	Execute(ctx context.Context, conv Conversation, cfg RequestConfig) (string, error)
}
