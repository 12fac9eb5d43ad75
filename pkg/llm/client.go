package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/applykit/applykit-engine/pkg/cache"
	"github.com/applykit/applykit-engine/pkg/logging"
	"github.com/applykit/applykit-engine/pkg/metrics"
	"github.com/applykit/applykit-engine/pkg/retry"
)

// ClientConfig holds inference client settings.
type ClientConfig struct {
	// PrimaryModel is used for every call unless overridden per-request.
	PrimaryModel string

	// FallbackModel is substituted for the remainder of a single call after
	// the primary model fails. Empty disables fallback. The primary is
	// restored for subsequent calls.
	FallbackModel string

	// MaxRetries is the total number of provider attempts per call.
	MaxRetries int

	// Timeout is the per-attempt provider timeout.
	Timeout time.Duration

	// DefaultCacheTTL applies when a cached call does not set its own TTL.
	DefaultCacheTTL time.Duration

	// Backoff overrides the retry schedule. Nil uses retry.DefaultConfig
	// (1s, 2s, 4s, ...).
	Backoff *retry.Config

	// Breaker overrides the circuit breaker settings.
	Breaker *CircuitBreakerConfig
}

// Client wraps a Provider behind retry, fallback, caching, and telemetry.
// It is the only path domain code uses to reach the model.
type Client struct {
	provider Provider
	cache    ResponseCache
	recorder Recorder
	breaker  *CircuitBreaker
	logger   *zap.Logger

	primaryModel  string
	fallbackModel string
	maxRetries    int
	timeout       time.Duration
	defaultTTL    time.Duration
	backoff       *retry.Config
}

// NewClient creates an inference client. cache and recorder may be nil;
// caching and telemetry are then disabled.
func NewClient(provider Provider, respCache ResponseCache, recorder Recorder, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.PrimaryModel == "" {
		return nil, fmt.Errorf("primary model is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.DefaultCacheTTL <= 0 {
		cfg.DefaultCacheTTL = 24 * time.Hour
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = retry.DefaultConfig()
	}
	breakerCfg := DefaultCircuitBreakerConfig()
	if cfg.Breaker != nil {
		breakerCfg = *cfg.Breaker
	}

	return &Client{
		provider:      provider,
		cache:         respCache,
		recorder:      recorder,
		breaker:       NewCircuitBreaker(breakerCfg),
		logger:        logger.Named("inference"),
		primaryModel:  cfg.PrimaryModel,
		fallbackModel: cfg.FallbackModel,
		maxRetries:    cfg.MaxRetries,
		timeout:       cfg.Timeout,
		defaultTTL:    cfg.DefaultCacheTTL,
		backoff:       backoff,
	}, nil
}

// keyPayload is the canonical set of response-affecting request fields.
// Every field that changes the completion body must appear here.
type keyPayload struct {
	Messages    []Message `json:"messages"`
	System      string    `json:"system"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Model       string    `json:"model"`
}

// RequestKey derives the deterministic cache key for a request and model.
func RequestKey(req Request, model string) (string, error) {
	return cache.Key(keyPayload{
		Messages:    req.Messages,
		System:      req.System,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Model:       model,
	})
}

// Generate runs one inference call: cache lookup, provider attempts with
// exponential backoff on transient failures, per-attempt telemetry, and
// fallback model substitution scoped to this call. The returned result
// always has RetryCount below the configured attempt ceiling.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := c.normalize(&req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.primaryModel
	}

	var key string
	if req.UseCache && c.cache != nil {
		k, err := RequestKey(req, model)
		if err != nil {
			c.logger.Warn("cache key derivation failed", zap.Error(err))
		} else {
			key = k
			if raw, ok := c.cache.Get(key); ok {
				var cached Result
				if err := json.Unmarshal(raw, &cached); err == nil {
					// Cached results bypass telemetry so duration and
					// throughput statistics reflect real provider calls.
					cached.Cached = true
					cached.RetryCount = 0
					cached.DurationSeconds = 0
					c.logger.Debug("served from cache", zap.String("module", req.Module))
					return &cached, nil
				}
			}
		}
	}

	usedFallback := false
	var lastErr *Error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff.Delay(attempt - 1)):
			case <-ctx.Done():
				return nil, NewError(ErrorTypeTimeout, "cancelled while waiting to retry", false, ctx.Err())
			}
		}

		if ok, berr := c.breaker.Allow(); !ok {
			// Fail fast without burning a provider attempt.
			return nil, berr
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		res, err := c.provider.Generate(attemptCtx, GenerateRequest{
			Model:       model,
			Messages:    req.Messages,
			System:      req.System,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		cancel()
		duration := time.Since(start)

		if err != nil {
			infErr := ClassifyError(err)
			infErr.Model = model
			lastErr = infErr
			c.breaker.RecordFailure()
			c.record(req, model, duration, 0, 0, false, string(infErr.Type), attempt, usedFallback)

			c.logger.Warn("inference attempt failed",
				zap.String("model", model),
				zap.String("module", req.Module),
				zap.Int("attempt", attempt),
				zap.String("error", logging.SanitizeError(infErr)))

			// One-call fallback substitution: after a primary failure the
			// remaining attempts use the fallback model. The next call
			// starts on the primary again.
			switchable := !usedFallback && c.fallbackModel != "" && model != c.fallbackModel
			if switchable {
				model = c.fallbackModel
				usedFallback = true
				c.logger.Info("switching to fallback model for this call",
					zap.String("fallback_model", model))
				continue
			}
			if !infErr.Retryable {
				return nil, infErr
			}
			continue
		}

		c.breaker.RecordSuccess()
		c.record(req, res.Model, duration, res.PromptTokens, res.CompletionTokens, true, "", attempt, usedFallback)

		result := &Result{
			Content:          res.Content,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			DurationSeconds:  duration.Seconds(),
			Model:            res.Model,
			RetryCount:       attempt,
			UsedFallback:     usedFallback,
		}

		if req.UseCache && c.cache != nil && key != "" {
			ttl := req.CacheTTL
			if ttl <= 0 {
				ttl = c.defaultTTL
			}
			if raw, err := json.Marshal(result); err == nil {
				c.cache.Set(key, raw, ttl)
			}
		}

		return result, nil
	}

	if lastErr == nil {
		lastErr = NewError(ErrorTypeUnknown, "inference failed with no attempts", false, nil)
	}
	return nil, lastErr
}

// structuredInstruction is appended to the system prompt on the structured
// output path.
const structuredInstruction = "Respond with valid JSON only. Do not include explanations, markdown fences, or any text outside the JSON."

// GenerateStructured runs one call instructed to return machine-parseable
// JSON and unmarshals it into out. A completion that fails to parse returns
// a parse-class error; the parse is never retried.
func (c *Client) GenerateStructured(ctx context.Context, req Request, out any) (*Result, error) {
	if req.System != "" {
		req.System = req.System + "\n\n" + structuredInstruction
	} else {
		req.System = structuredInstruction
	}

	result, err := c.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	extracted, err := ExtractJSON(result.Content)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return result, NewError(ErrorTypeParse, "completion JSON does not match expected shape", false, err)
	}
	return result, nil
}

// HealthCheck reports the underlying provider's availability.
func (c *Client) HealthCheck(ctx context.Context) (*Health, error) {
	return c.provider.HealthCheck(ctx)
}

// PrimaryModel returns the configured primary model name.
func (c *Client) PrimaryModel() string {
	return c.primaryModel
}

// normalize validates bounds and applies defaults.
func (c *Client) normalize(req *Request) error {
	if len(req.Messages) == 0 {
		return NewError(ErrorTypeBadRequest, "at least one message is required", false, nil)
	}
	if req.Temperature < 0 || req.Temperature > MaxTemperature {
		return NewError(ErrorTypeBadRequest,
			fmt.Sprintf("temperature %.2f outside [0, %.0f]", req.Temperature, MaxTemperature), false, nil)
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.MaxTokens < 1 || req.MaxTokens > MaxTokensCeiling {
		return NewError(ErrorTypeBadRequest,
			fmt.Sprintf("max_tokens %d outside [1, %d]", req.MaxTokens, MaxTokensCeiling), false, nil)
	}
	return nil
}

// record sends one telemetry entry for a provider attempt.
func (c *Client) record(req Request, model string, duration time.Duration, promptTokens, completionTokens int, success bool, errorKind string, retryCount int, usedFallback bool) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(metrics.Entry{
		Timestamp:        time.Now(),
		Model:            model,
		Module:           req.Module,
		JobID:            req.JobID,
		DurationSeconds:  duration.Seconds(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Success:          success,
		ErrorKind:        errorKind,
		RetryCount:       retryCount,
		UsedFallback:     usedFallback,
	})
}
