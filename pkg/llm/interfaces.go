package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/applykit/applykit-engine/pkg/metrics"
)

// Provider is the text-completion boundary. Any implementation of these four
// methods (local or remote) is pluggable without changing the client.
type Provider interface {
	// Initialize prepares the provider for use (connection checks, warmup).
	Initialize(ctx context.Context) error

	// Shutdown releases provider resources.
	Shutdown(ctx context.Context) error

	// Generate runs one completion. Errors should be classified via
	// ClassifyError so the client can decide retryability.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// HealthCheck reports whether the provider can serve requests.
	HealthCheck(ctx context.Context) (*Health, error)
}

// ResponseCache is the slice of the cache store the client needs.
type ResponseCache interface {
	Get(key string) (json.RawMessage, bool)
	Set(key string, value json.RawMessage, ttl time.Duration)
}

// Recorder receives one telemetry entry per provider attempt.
type Recorder interface {
	Record(entry metrics.Entry)
}

// Ensure the concrete providers implement Provider at compile time.
var (
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*AnthropicProvider)(nil)
	_ Provider = (*MockProvider)(nil)
)
