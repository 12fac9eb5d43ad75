// Package metrics records per-call inference telemetry, persists it in
// monthly JSON shards with retention-based archival, and runs a background
// sampler for system health (CPU, memory, temperature).
package metrics

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one inference attempt outcome. Entries are immutable once
// recorded and append-only within the current month's shard.
type Entry struct {
	ID               uuid.UUID    `json:"id"`
	Timestamp        time.Time    `json:"timestamp"`
	Model            string       `json:"model"`
	Module           string       `json:"module"`
	JobID            *uuid.UUID   `json:"job_id,omitempty"`
	DurationSeconds  float64      `json:"duration_seconds"`
	PromptTokens     int          `json:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens"`
	Success          bool         `json:"success"`
	ErrorKind        string       `json:"error_kind,omitempty"`
	RetryCount       int          `json:"retry_count"`
	UsedFallback     bool         `json:"used_fallback"`
	System           *SystemPoint `json:"system,omitempty"`
}

// tokensPerSecond returns completion throughput for a successful entry,
// or 0 when duration is not usable.
func (e *Entry) tokensPerSecond() float64 {
	if e.DurationSeconds <= 0 {
		return 0
	}
	return float64(e.CompletionTokens) / e.DurationSeconds
}

// SystemPoint is a periodic system-health snapshot. Fields are pointers so a
// failed sensor degrades to null without dropping the other readings.
type SystemPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    *float64  `json:"cpu_percent,omitempty"`
	MemoryPercent *float64  `json:"memory_percent,omitempty"`
	MemoryMB      *float64  `json:"memory_mb,omitempty"`
	TemperatureC  *float64  `json:"temperature_c,omitempty"`
}

// Trend classifies recent throughput against the prior hour.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
	TrendStable    Trend = "stable"
)

// Status is the point-in-time view used by dashboards.
type Status struct {
	TodayCalls       int          `json:"today_calls"`
	TodaySuccessRate float64      `json:"today_success_rate"`
	AvgTokensPerSec  float64      `json:"avg_tokens_per_sec"`
	PrimaryCalls     int          `json:"primary_calls"`
	FallbackCalls    int          `json:"fallback_calls"`
	Trend            Trend        `json:"trend"`
	System           *SystemPoint `json:"system,omitempty"`
}

// ModelStats is the per-model breakdown within a Summary.
type ModelStats struct {
	Calls            int     `json:"calls"`
	SuccessRate      float64 `json:"success_rate"`
	AvgDurationSec   float64 `json:"avg_duration_sec"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
}

// ModuleStats is the per-module breakdown within a Summary.
type ModuleStats struct {
	Calls          int     `json:"calls"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
}

// Summary aggregates entries over a date range.
type Summary struct {
	From              time.Time              `json:"from"`
	To                time.Time              `json:"to"`
	TotalCalls        int                    `json:"total_calls"`
	SuccessRate       float64                `json:"success_rate"`
	MedianDurationSec float64                `json:"median_duration_sec"`
	P95DurationSec    float64                `json:"p95_duration_sec"`
	PromptTokens      int                    `json:"prompt_tokens"`
	CompletionTokens  int                    `json:"completion_tokens"`
	ByModel           map[string]ModelStats  `json:"by_model"`
	ByModule          map[string]ModuleStats `json:"by_module"`
	Errors            map[string]int         `json:"errors"`
}
