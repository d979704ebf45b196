package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/leadrelay/internal/config"
	"github.com/wolfman30/leadrelay/internal/conversation"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

const (
	LLMProviderOpenAI  = "openai"
	LLMProviderBedrock = "bedrock"
	LLMProviderGemini  = "gemini"
)

// AWSConfigLoader loads the shared AWS SDK configuration on demand.
type AWSConfigLoader func(ctx context.Context) (aws.Config, error)

// BuildLLMClient wires the configured completion provider, wrapped with the
// fallback provider when one is configured and distinct.
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

	primaryName := normalizeProvider(cfg.LLMProvider)
	primary, err := buildProviderClient(ctx, cfg, primaryName, loadAWS)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: primary llm %s: %w", primaryName, err)
	}

	fallbackName := strings.ToLower(strings.TrimSpace(cfg.LLMFallbackProvider))
	if fallbackName == "" || fallbackName == primaryName {
		logger.Info("llm provider configured", "provider", primaryName)
		return primary, nil
	}
	fallback, err := buildProviderClient(ctx, cfg, fallbackName, loadAWS)
	if err != nil {
		logger.Warn("llm fallback provider unavailable; continuing without it", "provider", fallbackName, "error", err)
		return primary, nil
	}
	logger.Info("llm provider configured", "provider", primaryName, "fallback", fallbackName)
	return conversation.NewFallbackLLMClient(primary, fallback, logger), nil
}

// BuildReplyGenerator returns the completion adapter used by the orchestrator.
// Each client already carries its model, so the request model is left blank.
func BuildReplyGenerator(client conversation.LLMClient, cfg *appconfig.Config) *conversation.LLMReplyGenerator {
	return conversation.NewLLMReplyGenerator(client, "", cfg.CompletionTimeout)
}

func buildProviderClient(ctx context.Context, cfg *appconfig.Config, name string, loadAWS AWSConfigLoader) (conversation.LLMClient, error) {
	switch name {
	case LLMProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY missing")
		}
		return conversation.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case LLMProviderBedrock:
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, fmt.Errorf("BEDROCK_MODEL_ID missing")
		}
		if loadAWS == nil {
			return nil, fmt.Errorf("aws config loader missing")
		}
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
	case LLMProviderGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY missing")
		}
		return conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

func normalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return LLMProviderOpenAI
	}
	return name
}
