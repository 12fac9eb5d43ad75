// Package llm provides the resilient inference layer: a pluggable provider
// boundary, a retrying client with model fallback, response caching, and
// per-attempt telemetry recording.
package llm

import (
	"time"

	"github.com/google/uuid"
)

// Message roles mirror the chat-completion convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged message in a request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the normalized request passed to a Provider.
type GenerateRequest struct {
	Model       string
	Messages    []Message
	System      string
	Temperature float64
	MaxTokens   int
}

// GenerateResult is the normalized provider response. Providers must map
// their native response shapes into this before returning.
type GenerateResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// Health reports provider availability.
type Health struct {
	Status   string `json:"status"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Request is a caller-facing inference request.
type Request struct {
	// Messages is the ordered conversation. At least one is required.
	Messages []Message

	// System is the optional system prompt.
	System string

	// Temperature must be within [0, 1].
	Temperature float64

	// MaxTokens bounds the completion length, within [1, 4096].
	// Zero selects DefaultMaxTokens.
	MaxTokens int

	// Module and Purpose attribute the call in telemetry.
	Module  string
	Purpose string

	// JobID correlates the call with a job application, when known.
	JobID *uuid.UUID

	// Model overrides the client's primary model for this call.
	Model string

	// UseCache opts this call into the response cache.
	UseCache bool

	// CacheTTL overrides the client's default TTL for the stored response.
	CacheTTL time.Duration
}

// Result is a caller-facing inference outcome.
type Result struct {
	Content          string  `json:"content"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	DurationSeconds  float64 `json:"duration_seconds"`
	Model            string  `json:"model"`
	Cached           bool    `json:"cached"`
	RetryCount       int     `json:"retry_count"`
	UsedFallback     bool    `json:"used_fallback"`
}

// Temperature and token bounds enforced by the client.
const (
	MaxTemperature   = 1.0
	MaxTokensCeiling = 4096
	DefaultMaxTokens = 1024
)
