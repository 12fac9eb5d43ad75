package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func passStep(name string) Step {
	return Step{
		Name: name,
		Run: func(ctx context.Context, input any) (any, error) {
			return fmt.Sprintf("%v->%s", input, name), nil
		},
	}
}

func failStep(name string) Step {
	return Step{
		Name: name,
		Run: func(ctx context.Context, input any) (any, error) {
			return nil, errors.New(name + " exploded")
		},
	}
}

func newTestOrchestrator(t *testing.T, steps []Step) *Orchestrator {
	t.Helper()
	o, err := New(steps, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestNew_Validation(t *testing.T) {
	logger := zap.NewNop()

	if _, err := New(nil, logger); err == nil {
		t.Error("expected error for empty step list")
	}
	if _, err := New([]Step{{Name: "x"}}, logger); err == nil {
		t.Error("expected error for step without function")
	}
	if _, err := New([]Step{{Run: passStep("a").Run}}, logger); err == nil {
		t.Error("expected error for unnamed step")
	}
	if _, err := New([]Step{passStep("a"), passStep("a")}, logger); err == nil {
		t.Error("expected error for duplicate step names")
	}
}

func TestRun_ThreadsOutputBetweenSteps(t *testing.T) {
	o := newTestOrchestrator(t, []Step{passStep("a"), passStep("b"), passStep("c")})

	run := o.Run(context.Background(), "start")

	if run.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.Output != "start->a->b->c" {
		t.Errorf("unexpected terminal output %v", run.Output)
	}
	if len(run.Steps) != 3 {
		t.Fatalf("expected 3 step records, got %d", len(run.Steps))
	}
	for i, name := range []string{"a", "b", "c"} {
		if run.Steps[i].Name != name || run.Steps[i].Status != StatusCompleted {
			t.Errorf("step %d: %+v", i, run.Steps[i])
		}
	}
}

func TestRun_HaltsOnFirstFailure(t *testing.T) {
	o := newTestOrchestrator(t, []Step{passStep("a"), failStep("b"), passStep("c")})

	run := o.Run(context.Background(), "start")

	if run.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if run.FailedStep != "b" {
		t.Errorf("expected failed step b, got %q", run.FailedStep)
	}
	if len(run.Steps) != 3 {
		t.Fatalf("every step must appear in the record, got %d", len(run.Steps))
	}
	if run.Steps[0].Status != StatusCompleted {
		t.Errorf("step a: %s", run.Steps[0].Status)
	}
	if run.Steps[1].Status != StatusFailed || run.Steps[1].Err == "" {
		t.Errorf("step b: %+v", run.Steps[1])
	}
	if run.Steps[2].Status != StatusSkipped {
		t.Errorf("step c should be skipped after the halt, got %s", run.Steps[2].Status)
	}
	// Output preserved up to the failure.
	if run.Output != "start->a" {
		t.Errorf("expected last completed output, got %v", run.Output)
	}
}

func TestRun_SkipOptionalStep(t *testing.T) {
	optional := passStep("b")
	optional.Optional = true
	o := newTestOrchestrator(t, []Step{passStep("a"), optional, passStep("c")})

	run := o.Run(context.Background(), "start", WithSkip("b"))

	if run.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.Steps[1].Status != StatusSkipped {
		t.Errorf("expected b skipped, got %s", run.Steps[1].Status)
	}
	// Skipped steps pass the previous output through.
	if run.Output != "start->a->c" {
		t.Errorf("unexpected output %v", run.Output)
	}
}

func TestRun_SkipIgnoredForRequiredStep(t *testing.T) {
	o := newTestOrchestrator(t, []Step{passStep("a"), passStep("b")})

	run := o.Run(context.Background(), "start", WithSkip("b"))

	if run.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.Steps[1].Status != StatusCompleted {
		t.Errorf("required step must run despite skip request, got %s", run.Steps[1].Status)
	}
}

func TestRun_CancelledContextFailsNextStep(t *testing.T) {
	started := false
	o := newTestOrchestrator(t, []Step{
		{
			Name: "a",
			Run: func(ctx context.Context, input any) (any, error) {
				started = true
				return input, nil
			},
		},
		passStep("b"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := o.Run(ctx, "start")

	if started {
		t.Error("no step should start under a cancelled context")
	}
	if run.Status != StatusFailed || run.FailedStep != "a" {
		t.Errorf("expected failure at a, got status=%s failed=%q", run.Status, run.FailedStep)
	}
	if run.Steps[1].Status != StatusSkipped {
		t.Errorf("remaining step should be recorded skipped, got %s", run.Steps[1].Status)
	}
}

func TestRun_ProgressCallbacks(t *testing.T) {
	o := newTestOrchestrator(t, []Step{passStep("a"), passStep("b")})

	var updates []Progress
	run := o.Run(context.Background(), "start", WithProgress(func(p Progress) {
		updates = append(updates, p)
	}))

	if run.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if len(updates) == 0 {
		t.Fatal("expected progress updates")
	}

	final := updates[len(updates)-1]
	if final.Status != StatusCompleted || final.Percent != 100 {
		t.Errorf("unexpected final update: %+v", final)
	}
	for _, p := range updates {
		if p.RunID != run.ID {
			t.Errorf("update has wrong run ID: %s", p.RunID)
		}
		if p.StepsTotal != 2 {
			t.Errorf("update has wrong total: %d", p.StepsTotal)
		}
	}
}

func TestRun_CallbackPanicDoesNotAbortRun(t *testing.T) {
	o := newTestOrchestrator(t, []Step{passStep("a"), passStep("b")})

	run := o.Run(context.Background(), "start", WithProgress(func(p Progress) {
		panic("callback bug")
	}))

	if run.Status != StatusCompleted {
		t.Errorf("panicking callback must not abort the run, got %s", run.Status)
	}
	if run.Output != "start->a->b" {
		t.Errorf("unexpected output %v", run.Output)
	}
}

func TestRun_Summarize(t *testing.T) {
	step := passStep("a")
	step.Summarize = func(output any) string {
		return fmt.Sprintf("produced %v", output)
	}
	o := newTestOrchestrator(t, []Step{step})

	run := o.Run(context.Background(), "x")

	if run.Steps[0].OutputSummary != "produced x->a" {
		t.Errorf("unexpected summary %q", run.Steps[0].OutputSummary)
	}
}

func TestRun_IndependentRuns(t *testing.T) {
	o := newTestOrchestrator(t, []Step{passStep("a")})

	r1 := o.Run(context.Background(), "x")
	r2 := o.Run(context.Background(), "y")

	if r1.ID == r2.ID {
		t.Error("each run must get its own ID")
	}
	if r1.Output != "x->a" || r2.Output != "y->a" {
		t.Errorf("runs leaked state: %v, %v", r1.Output, r2.Output)
	}
}
