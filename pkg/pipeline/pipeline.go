// Package pipeline runs a fixed ordered list of opaque processing steps,
// tracking per-step timing and status, halting on first failure, and
// reporting progress through best-effort callbacks. The orchestrator knows
// nothing about what the steps compute; callers inject them as functions
// with a uniform success/failure contract.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a step or a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StepFunc is one unit of pipeline work: it takes the previous step's output
// and produces the next one, or fails.
type StepFunc func(ctx context.Context, input any) (any, error)

// Step is a named pipeline stage. Optional steps may be skipped per-run.
type Step struct {
	Name     string
	Run      StepFunc
	Optional bool

	// Summarize renders a short description of the step's output for the
	// run record. Nil leaves the summary empty.
	Summarize func(output any) string
}

// StepResult records one step's execution.
type StepResult struct {
	Name          string        `json:"name"`
	Status        Status        `json:"status"`
	StartedAt     time.Time     `json:"started_at,omitzero"`
	CompletedAt   time.Time     `json:"completed_at,omitzero"`
	Duration      time.Duration `json:"duration"`
	Err           string        `json:"error,omitempty"`
	OutputSummary string        `json:"output_summary,omitempty"`
}

// RunResult is the immutable outcome of one pipeline run. A failed run is a
// complete, inspectable value: every step appears in order with its status,
// and the successful steps' outputs are preserved up to the failure.
type RunResult struct {
	ID         uuid.UUID     `json:"id"`
	Status     Status        `json:"status"`
	Steps      []StepResult  `json:"steps"`
	FailedStep string        `json:"failed_step,omitempty"`
	Duration   time.Duration `json:"duration"`

	// Output is the terminal output: the last completed step's result.
	Output any `json:"-"`
}

// Progress is delivered to the caller's callback after every step transition.
type Progress struct {
	RunID          uuid.UUID `json:"run_id"`
	Status         Status    `json:"status"`
	CurrentStep    string    `json:"current_step"`
	StepsCompleted int       `json:"steps_completed"`
	StepsTotal     int       `json:"steps_total"`
	Percent        float64   `json:"percent"`
	Message        string    `json:"message"`
}

// ProgressFunc receives progress updates. Callbacks are best-effort: a
// callback that panics is logged and swallowed, never aborting the run.
type ProgressFunc func(Progress)

// Orchestrator executes its step list once per Run call.
type Orchestrator struct {
	steps  []Step
	logger *zap.Logger
	now    func() time.Time
}

// New creates an orchestrator over an ordered step list.
func New(steps []Step, logger *zap.Logger) (*Orchestrator, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("at least one step is required")
	}
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.Name == "" {
			return nil, fmt.Errorf("step name is required")
		}
		if s.Run == nil {
			return nil, fmt.Errorf("step %s has no function", s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate step name %s", s.Name)
		}
		seen[s.Name] = true
	}

	return &Orchestrator{
		steps:  steps,
		logger: logger.Named("pipeline"),
		now:    time.Now,
	}, nil
}

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	onProgress ProgressFunc
	skip       map[string]bool
}

// WithProgress sets the progress callback for this run.
func WithProgress(fn ProgressFunc) RunOption {
	return func(rc *runConfig) {
		rc.onProgress = fn
	}
}

// WithSkip skips the named step for this run. Only steps marked Optional are
// skippable; the option is ignored (and logged) for required steps.
func WithSkip(name string) RunOption {
	return func(rc *runConfig) {
		rc.skip[name] = true
	}
}

// Run executes the step list once, feeding each step the previous step's
// output starting from initial. It never returns an error for step failures;
// inspect the result's Status and FailedStep instead.
func (o *Orchestrator) Run(ctx context.Context, initial any, opts ...RunOption) *RunResult {
	rc := &runConfig{skip: make(map[string]bool)}
	for _, opt := range opts {
		opt(rc)
	}

	run := &RunResult{
		ID:     uuid.New(),
		Status: StatusRunning,
		Steps:  make([]StepResult, 0, len(o.steps)),
		Output: initial,
	}
	runStart := o.now()

	o.logger.Info("pipeline run started",
		zap.String("run_id", run.ID.String()),
		zap.Int("steps", len(o.steps)))

	input := initial
	halted := false

	for i, step := range o.steps {
		if halted {
			run.Steps = append(run.Steps, StepResult{Name: step.Name, Status: StatusSkipped})
			continue
		}

		if rc.skip[step.Name] {
			if step.Optional {
				run.Steps = append(run.Steps, StepResult{Name: step.Name, Status: StatusSkipped})
				o.notify(rc.onProgress, run, i+1, step.Name, StatusSkipped, "Skipped "+step.Name)
				continue
			}
			o.logger.Warn("ignoring skip request for required step", zap.String("step", step.Name))
		}

		// The only cancellation unit is "do not start the next step".
		if err := ctx.Err(); err != nil {
			run.Steps = append(run.Steps, StepResult{
				Name:   step.Name,
				Status: StatusFailed,
				Err:    fmt.Sprintf("not started: %v", err),
			})
			run.Status = StatusFailed
			run.FailedStep = step.Name
			halted = true
			continue
		}

		o.notify(rc.onProgress, run, i, step.Name, StatusRunning, "Starting "+step.Name)

		result := StepResult{Name: step.Name, Status: StatusRunning, StartedAt: o.now()}
		output, err := step.Run(ctx, input)
		result.CompletedAt = o.now()
		result.Duration = result.CompletedAt.Sub(result.StartedAt)

		if err != nil {
			result.Status = StatusFailed
			result.Err = err.Error()
			run.Steps = append(run.Steps, result)
			run.Status = StatusFailed
			run.FailedStep = step.Name
			halted = true

			o.logger.Error("pipeline step failed",
				zap.String("run_id", run.ID.String()),
				zap.String("step", step.Name),
				zap.Duration("duration", result.Duration),
				zap.Error(err))
			o.notify(rc.onProgress, run, i, step.Name, StatusFailed,
				fmt.Sprintf("Step %s failed: %v", step.Name, err))
			continue
		}

		result.Status = StatusCompleted
		if step.Summarize != nil {
			result.OutputSummary = step.Summarize(output)
		}
		run.Steps = append(run.Steps, result)
		input = output
		run.Output = output

		o.logger.Info("pipeline step completed",
			zap.String("run_id", run.ID.String()),
			zap.String("step", step.Name),
			zap.Duration("duration", result.Duration))
		o.notify(rc.onProgress, run, i+1, step.Name, StatusCompleted, "Completed "+step.Name)
	}

	if run.Status != StatusFailed {
		run.Status = StatusCompleted
	}
	run.Duration = o.now().Sub(runStart)

	o.logger.Info("pipeline run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.Duration("duration", run.Duration))
	o.notify(rc.onProgress, run, len(run.Steps), "", run.Status, "Run "+string(run.Status))

	return run
}

// notify invokes the progress callback, recovering and logging any panic so
// orchestration correctness never depends on callback behavior.
func (o *Orchestrator) notify(fn ProgressFunc, run *RunResult, completed int, current string, status Status, message string) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("progress callback panicked",
				zap.String("run_id", run.ID.String()),
				zap.Any("panic", r))
		}
	}()

	total := len(o.steps)
	percent := 0.0
	if total > 0 {
		if completed > total {
			completed = total
		}
		percent = float64(completed) / float64(total) * 100
	}
	fn(Progress{
		RunID:          run.ID,
		Status:         status,
		CurrentStep:    current,
		StepsCompleted: completed,
		StepsTotal:     total,
		Percent:        percent,
		Message:        message,
	})
}
