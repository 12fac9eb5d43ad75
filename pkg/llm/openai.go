package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/applykit/applykit-engine/pkg/logging"
)

// OpenAIProvider serves completions from any OpenAI-compatible endpoint,
// including local vLLM and Ollama servers.
type OpenAIProvider struct {
	client   *openai.Client
	endpoint string
	model    string
	logger   *zap.Logger
}

// OpenAIConfig holds configuration for creating an OpenAI-compatible provider.
type OpenAIConfig struct {
	Endpoint string // Base URL, e.g. "http://localhost:11434/v1"
	Model    string // Default model name
	APIKey   string // Optional for local endpoints
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &OpenAIProvider{
		client:   openai.NewClientWithConfig(clientConfig),
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		logger:   logger.Named("openai"),
	}, nil
}

// Initialize verifies the endpoint is reachable.
func (p *OpenAIProvider) Initialize(ctx context.Context) error {
	if _, err := p.HealthCheck(ctx); err != nil {
		return err
	}
	p.logger.Info("provider initialized",
		zap.String("endpoint", p.endpoint),
		zap.String("model", p.model))
	return nil
}

// Shutdown releases provider resources. The HTTP client needs no teardown.
func (p *OpenAIProvider) Shutdown(ctx context.Context) error {
	return nil
}

// Generate runs one chat completion and normalizes the response.
func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	p.logger.Debug("completion request",
		zap.String("model", model),
		zap.Int("messages", len(messages)),
		zap.Float64("temperature", req.Temperature),
		zap.Int("max_tokens", req.MaxTokens))

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		p.logger.Warn("completion failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, ClassifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewError(ErrorTypeServer, "no choices in response", true, nil)
	}

	p.logger.Debug("completion done",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResult{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Model:            model,
	}, nil
}

// HealthCheck lists models on the endpoint to confirm it can serve requests.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) (*Health, error) {
	if _, err := p.client.ListModels(ctx); err != nil {
		return &Health{Status: "unavailable", Model: p.model, Endpoint: p.endpoint}, ClassifyError(err)
	}
	return &Health{Status: "ok", Model: p.model, Endpoint: p.endpoint}, nil
}
