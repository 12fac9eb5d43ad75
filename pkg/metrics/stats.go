package metrics

import (
	"sort"
	"time"
)

// trendThreshold is the relative throughput change that separates
// improving/degrading from stable.
const trendThreshold = 0.10

// Status computes the point-in-time view: today's call count and success
// rate, average throughput, primary-vs-fallback split, current system
// snapshot, and a trend comparing the last hour's throughput to the hour
// before it.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	st := Status{Trend: TrendStable}

	var successes int
	var throughputSum float64
	var throughputN int
	for _, e := range s.current {
		if e.Timestamp.Before(dayStart) {
			continue
		}
		st.TodayCalls++
		if e.Success {
			successes++
			if tps := e.tokensPerSecond(); tps > 0 {
				throughputSum += tps
				throughputN++
			}
		}
		if e.UsedFallback {
			st.FallbackCalls++
		} else {
			st.PrimaryCalls++
		}
	}
	if st.TodayCalls > 0 {
		st.TodaySuccessRate = float64(successes) / float64(st.TodayCalls)
	}
	if throughputN > 0 {
		st.AvgTokensPerSec = throughputSum / float64(throughputN)
	}

	st.Trend = s.trendLocked(now)

	if s.systemSource != nil {
		st.System = s.systemSource.Latest()
	}

	return st
}

// trendLocked compares average throughput over [now-1h, now) to
// [now-2h, now-1h). With no data in either window the trend is stable.
func (s *Store) trendLocked(now time.Time) Trend {
	hourAgo := now.Add(-time.Hour)
	twoHoursAgo := now.Add(-2 * time.Hour)

	recent := avgThroughput(s.current, hourAgo, now)
	prior := avgThroughput(s.current, twoHoursAgo, hourAgo)
	if recent == 0 || prior == 0 {
		return TrendStable
	}

	switch {
	case recent >= prior*(1+trendThreshold):
		return TrendImproving
	case recent <= prior*(1-trendThreshold):
		return TrendDegrading
	default:
		return TrendStable
	}
}

func avgThroughput(entries []Entry, from, to time.Time) float64 {
	var sum float64
	var n int
	for _, e := range entries {
		if e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		if !e.Success {
			continue
		}
		if tps := e.tokensPerSecond(); tps > 0 {
			sum += tps
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Summary aggregates entries over [from, to) across active and archive
// shards: totals, duration percentiles, per-model and per-module breakdowns,
// and an error-kind histogram.
func (s *Store) Summary(from, to time.Time) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.entriesInRange(from, to)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		From:     from,
		To:       to,
		ByModel:  make(map[string]ModelStats),
		ByModule: make(map[string]ModuleStats),
		Errors:   make(map[string]int),
	}

	var successes int
	durations := make([]float64, 0, len(entries))

	type agg struct {
		calls      int
		successes  int
		duration   float64
		prompt     int
		completion int
	}
	byModel := make(map[string]*agg)
	byModule := make(map[string]*agg)

	for _, e := range entries {
		sum.TotalCalls++
		sum.PromptTokens += e.PromptTokens
		sum.CompletionTokens += e.CompletionTokens
		durations = append(durations, e.DurationSeconds)

		if e.Success {
			successes++
		} else if e.ErrorKind != "" {
			sum.Errors[e.ErrorKind]++
		}

		m := byModel[e.Model]
		if m == nil {
			m = &agg{}
			byModel[e.Model] = m
		}
		m.calls++
		m.duration += e.DurationSeconds
		m.prompt += e.PromptTokens
		m.completion += e.CompletionTokens
		if e.Success {
			m.successes++
		}

		mod := byModule[e.Module]
		if mod == nil {
			mod = &agg{}
			byModule[e.Module] = mod
		}
		mod.calls++
		mod.duration += e.DurationSeconds
		if e.Success {
			mod.successes++
		}
	}

	if sum.TotalCalls > 0 {
		sum.SuccessRate = float64(successes) / float64(sum.TotalCalls)
		sum.MedianDurationSec = percentile(durations, 0.50)
		sum.P95DurationSec = percentile(durations, 0.95)
	}

	for model, a := range byModel {
		sum.ByModel[model] = ModelStats{
			Calls:            a.calls,
			SuccessRate:      float64(a.successes) / float64(a.calls),
			AvgDurationSec:   a.duration / float64(a.calls),
			PromptTokens:     a.prompt,
			CompletionTokens: a.completion,
		}
	}
	for module, a := range byModule {
		sum.ByModule[module] = ModuleStats{
			Calls:          a.calls,
			SuccessRate:    float64(a.successes) / float64(a.calls),
			AvgDurationSec: a.duration / float64(a.calls),
		}
	}

	return sum, nil
}

// percentile returns the p-quantile (0..1) of values using nearest-rank on a
// sorted copy. Returns 0 for an empty slice.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
