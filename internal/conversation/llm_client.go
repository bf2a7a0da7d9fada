package conversation

import (
	"context"
	"errors"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ErrLLMNotConfigured is returned by StubLLMClient.
var ErrLLMNotConfigured = errors.New("conversation: no llm provider configured")

// ChatMessage is an internal message representation that can include system prompts.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// StubLLMClient stands in when no provider credentials are present. Every
// call fails so callers fall back to their canned reply.
type StubLLMClient struct{}

func (StubLLMClient) Complete(context.Context, LLMRequest) (LLMResponse, error) {
	return LLMResponse{}, ErrLLMNotConfigured
}

// splitSystemAndMessages moves system-role messages into the System slice
// the provider adapters expect.
func splitSystemAndMessages(messages []ChatMessage) ([]string, []ChatMessage) {
	var system []string
	rest := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == ChatRoleSystem {
			system = append(system, msg.Content)
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
