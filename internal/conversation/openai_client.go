package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when neither the client nor the request names a model.
const DefaultOpenAIModel = "gpt-3.5-turbo"

type openAIChatAPI interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAILLMClient implements LLMClient with OpenAI chat completions.
type OpenAILLMClient struct {
	chat  openAIChatAPI
	model string
}

// NewOpenAILLMClient builds a client for apiKey. baseURL is optional and
// points the client at an OpenAI compatible endpoint.
func NewOpenAILLMClient(apiKey, baseURL, model string) (*OpenAILLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: openai api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return newOpenAILLMClient(&client.Chat.Completions, model), nil
}

func newOpenAILLMClient(chat openAIChatAPI, model string) *OpenAILLMClient {
	if chat == nil {
		panic("conversation: openai chat client cannot be nil")
	}
	return &OpenAILLMClient{chat: chat, model: strings.TrimSpace(model)}
}

func (c *OpenAILLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	model := c.model
	if model == "" {
		model = strings.TrimSpace(req.Model)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.System)+len(req.Messages))
	for _, block := range req.System {
		if strings.TrimSpace(block) != "" {
			messages = append(messages, openai.SystemMessage(block))
		}
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case ChatRoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case ChatRoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case ChatRoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			return LLMResponse{}, fmt.Errorf("conversation: unsupported role %q", msg.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature >= 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(float64(req.TopP))
	}

	completion, err := c.chat.New(ctx, params)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: openai completion failed: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return LLMResponse{}, errors.New("conversation: openai returned no choices")
	}

	choice := completion.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return LLMResponse{}, errors.New("conversation: openai returned empty content")
	}
	return LLMResponse{
		Text:       text,
		StopReason: choice.FinishReason,
		Usage: TokenUsage{
			InputTokens:  int32(completion.Usage.PromptTokens),
			OutputTokens: int32(completion.Usage.CompletionTokens),
			TotalTokens:  int32(completion.Usage.TotalTokens),
		},
	}, nil
}
