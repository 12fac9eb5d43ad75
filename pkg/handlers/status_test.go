package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/applykit/applykit-engine/pkg/llm"
	"github.com/applykit/applykit-engine/pkg/metrics"
)

// fakeView is a canned MetricsView.
type fakeView struct {
	status  metrics.Status
	summary *metrics.Summary
	err     error

	summaryFrom time.Time
	summaryTo   time.Time
}

func (v *fakeView) Status() metrics.Status { return v.status }

func (v *fakeView) Summary(from, to time.Time) (*metrics.Summary, error) {
	v.summaryFrom = from
	v.summaryTo = to
	if v.err != nil {
		return nil, v.err
	}
	return v.summary, nil
}

// fakeSystem is a canned SystemView.
type fakeSystem struct {
	points []metrics.SystemPoint
}

func (s *fakeSystem) Points() []metrics.SystemPoint { return s.points }

// fakeHealth is a canned ProviderHealth.
type fakeHealth struct {
	health *llm.Health
	err    error
}

func (p *fakeHealth) HealthCheck(ctx context.Context) (*llm.Health, error) {
	return p.health, p.err
}

func TestStatus(t *testing.T) {
	view := &fakeView{status: metrics.Status{TodayCalls: 7, Trend: metrics.TrendStable}}
	provider := &fakeHealth{health: &llm.Health{Status: "ok", Model: "m"}}
	h := NewStatusHandler(view, nil, provider, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Metrics  metrics.Status `json:"metrics"`
		Provider *llm.Health    `json:"provider"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Metrics.TodayCalls != 7 {
		t.Errorf("today calls = %d", resp.Metrics.TodayCalls)
	}
	if resp.Provider == nil || resp.Provider.Status != "ok" {
		t.Errorf("provider = %+v", resp.Provider)
	}
}

func TestStatus_ProviderDown(t *testing.T) {
	view := &fakeView{}
	provider := &fakeHealth{err: errors.New("connection refused")}
	h := NewStatusHandler(view, nil, provider, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	// Telemetry is still served when the provider is unreachable.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSummary_DateRange(t *testing.T) {
	view := &fakeView{summary: &metrics.Summary{TotalCalls: 5}}
	h := NewStatusHandler(view, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/summary?from=2026-08-01&to=2026-08-15", nil)
	h.Summary(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	wantFrom := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !view.summaryFrom.Equal(wantFrom) {
		t.Errorf("from = %v", view.summaryFrom)
	}
	// End date is inclusive: to is midnight of the following day.
	wantTo := time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)
	if !view.summaryTo.Equal(wantTo) {
		t.Errorf("to = %v", view.summaryTo)
	}

	var resp metrics.Summary
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalCalls != 5 {
		t.Errorf("total calls = %d", resp.TotalCalls)
	}
}

func TestSummary_BadDate(t *testing.T) {
	h := NewStatusHandler(&fakeView{}, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/summary?from=not-a-date", nil)
	h.Summary(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSummary_ViewError(t *testing.T) {
	h := NewStatusHandler(&fakeView{err: errors.New("disk gone")}, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Summary(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/summary", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSystem(t *testing.T) {
	cpu := 33.0
	system := &fakeSystem{points: []metrics.SystemPoint{
		{Timestamp: time.Now(), CPUPercent: &cpu},
	}}
	h := NewStatusHandler(&fakeView{}, system, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.System(rec, httptest.NewRequest(http.MethodGet, "/api/system", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var points []metrics.SystemPoint
	if err := json.NewDecoder(rec.Body).Decode(&points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 1 || points[0].CPUPercent == nil || *points[0].CPUPercent != 33.0 {
		t.Errorf("points = %+v", points)
	}
}

func TestRegisterRoutes(t *testing.T) {
	h := NewStatusHandler(&fakeView{summary: &metrics.Summary{}}, &fakeSystem{}, nil, zap.NewNop())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	for _, path := range []string{"/api/status", "/api/metrics/summary", "/api/system"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s returned %d", path, rec.Code)
		}
	}
}
