package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/applykit/applykit-engine/pkg/logging"
)

// AnthropicProvider serves completions from the Anthropic Messages API.
// It exists alongside OpenAIProvider to prove the provider contract is
// pluggable; the default deployment uses a local OpenAI-compatible server.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// AnthropicConfig holds configuration for creating an Anthropic provider.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// NewAnthropicProvider creates a provider backed by the Anthropic API.
func NewAnthropicProvider(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(cfg.APIKey),
		model:  cfg.Model,
		logger: logger.Named("anthropic"),
	}, nil
}

// Initialize verifies the API accepts requests for the configured model.
func (p *AnthropicProvider) Initialize(ctx context.Context) error {
	if _, err := p.HealthCheck(ctx); err != nil {
		return err
	}
	p.logger.Info("provider initialized", zap.String("model", p.model))
	return nil
}

// Shutdown releases provider resources. The HTTP client needs no teardown.
func (p *AnthropicProvider) Shutdown(ctx context.Context) error {
	return nil
}

// Generate runs one message completion and normalizes the response.
func (p *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]anthropic.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantTextMessage(m.Content))
		default:
			messages = append(messages, anthropic.NewUserTextMessage(m.Content))
		}
	}

	temperature := float32(req.Temperature)

	start := time.Now()
	resp, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		Messages:    messages,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		p.logger.Warn("completion failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, ClassifyError(err)
	}

	p.logger.Debug("completion done",
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResult{
		Content:          resp.GetFirstContentText(),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		Model:            model,
	}, nil
}

// HealthCheck issues a minimal one-token request to confirm availability.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) (*Health, error) {
	_, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		Messages:  []anthropic.Message{anthropic.NewUserTextMessage("ping")},
		MaxTokens: 1,
	})
	if err != nil {
		return &Health{Status: "unavailable", Model: p.model}, ClassifyError(err)
	}
	return &Health{Status: "ok", Model: p.model}, nil
}
