package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/mhire/triage-assistant/internal/config"
	"github.com/mhire/triage-assistant/internal/conversation"
	"github.com/mhire/triage-assistant/internal/observability/metrics"
	"github.com/mhire/triage-assistant/internal/session"
	"github.com/mhire/triage-assistant/pkg/logging"
)

// AWSConfigLoader resolves AWS SDK configuration on demand, so binaries that
// never touch Bedrock or SES skip credential discovery.
type AWSConfigLoader func(ctx context.Context) (aws.Config, error)

var errNoAWSLoader = errors.New("bootstrap: aws config loader not provided")

// BuildLLMClient wires the configured provider, wrapping it with the fallback
// provider when one is set. A primary provider that cannot be built degrades
// to the stub, whose failures route every reply through the escalation path.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, loadAWS AWSConfigLoader, logger *logging.Logger) (conversation.LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	primary, err := buildProvider(ctx, cfg.LLMProvider, cfg, loadAWS)
	if err != nil {
		logger.Warn("llm provider unavailable; using stub client", "provider", cfg.LLMProvider, "error", err)
		primary = conversation.StubLLMClient{}
	} else {
		logger.Info("llm provider configured", "provider", cfg.LLMProvider)
	}

	fallbackName := strings.TrimSpace(cfg.LLMFallbackProvider)
	if fallbackName == "" || fallbackName == cfg.LLMProvider {
		return primary, nil
	}
	fallback, err := buildProvider(ctx, fallbackName, cfg, loadAWS)
	if err != nil {
		logger.Warn("llm fallback provider unavailable", "provider", fallbackName, "error", err)
		return primary, nil
	}
	logger.Info("llm fallback configured", "primary", cfg.LLMProvider, "fallback", fallbackName)
	return conversation.NewFallbackLLMClient(primary, fallback, logger), nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, loadAWS AWSConfigLoader) (conversation.LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return conversation.NewOpenAILLMClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLMModel)
	case "gemini":
		return conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required")
		}
		if loadAWS == nil {
			return nil, errNoAWSLoader
		}
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
	case "stub", "none":
		return conversation.StubLLMClient{}, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", name)
	}
}

// BuildEngine wires the session store, resolver and conversation engine.
func BuildEngine(cfg *appconfig.Config, llm conversation.LLMClient, notifier conversation.Notifier, m *metrics.ConversationMetrics, logger *logging.Logger) (*conversation.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if llm == nil {
		return nil, fmt.Errorf("bootstrap: llm client is required")
	}

	opts := []conversation.EngineOption{
		conversation.WithLLMSettings(cfg.LLMModel, cfg.LLMMaxTokens, cfg.LLMTemperature),
		conversation.WithLLMTimeout(cfg.LLMTimeout),
		conversation.WithMetrics(m),
	}
	if cfg.ContextWindow > 0 {
		opts = append(opts, conversation.WithContextWindow(cfg.ContextWindow))
	}
	if notifier != nil {
		opts = append(opts, conversation.WithNotifier(notifier))
	}

	return conversation.NewEngine(
		session.NewStore(cfg.HistoryLimit),
		session.NewResolver(cfg.DefaultCountryCode),
		llm,
		logger,
		opts...,
	), nil
}
