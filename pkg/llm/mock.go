package llm

import (
	"context"
)

// MockProvider is a configurable mock for testing inference functionality.
// Set the function fields to control behavior in tests.
type MockProvider struct {
	// InitializeFunc is called when Initialize is invoked. Nil returns nil.
	InitializeFunc func(ctx context.Context) error

	// ShutdownFunc is called when Shutdown is invoked. Nil returns nil.
	ShutdownFunc func(ctx context.Context) error

	// GenerateFunc is called when Generate is invoked.
	// If nil, returns an empty result and nil error.
	GenerateFunc func(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// HealthCheckFunc is called when HealthCheck is invoked.
	// If nil, reports status "ok".
	HealthCheckFunc func(ctx context.Context) (*Health, error)

	// Call tracking for verification
	InitializeCalls  int
	ShutdownCalls    int
	GenerateCalls    int
	HealthCheckCalls int

	// GenerateRequests records every request passed to Generate.
	GenerateRequests []GenerateRequest
}

// NewMockProvider creates a new mock with sensible defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Initialize implements Provider.
func (m *MockProvider) Initialize(ctx context.Context) error {
	m.InitializeCalls++
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx)
	}
	return nil
}

// Shutdown implements Provider.
func (m *MockProvider) Shutdown(ctx context.Context) error {
	m.ShutdownCalls++
	if m.ShutdownFunc != nil {
		return m.ShutdownFunc(ctx)
	}
	return nil
}

// Generate implements Provider.
func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	m.GenerateCalls++
	m.GenerateRequests = append(m.GenerateRequests, req)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return &GenerateResult{Model: req.Model}, nil
}

// HealthCheck implements Provider.
func (m *MockProvider) HealthCheck(ctx context.Context) (*Health, error) {
	m.HealthCheckCalls++
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}
	return &Health{Status: "ok", Model: "mock-model"}, nil
}
