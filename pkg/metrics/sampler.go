package metrics

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
	"go.uber.org/zap"

	"github.com/applykit/applykit-engine/pkg/jsonutil"
)

const (
	// DefaultSampleInterval is the sampler period when none is configured.
	DefaultSampleInterval = 10 * time.Second
	// DefaultSystemWindow bounds the rolling point series by age.
	DefaultSystemWindow = time.Hour
	// persistEvery controls how many samples elapse between disk writes.
	persistEvery = 6
)

var _ SystemSource = (*Sampler)(nil)

// SamplerConfig holds system sampler settings.
type SamplerConfig struct {
	Path     string        // rolling JSON file, e.g. data/metrics/system_metrics.json
	Interval time.Duration // sampling period
	Window   time.Duration // max point age
}

// Sampler collects SystemPoint snapshots on a fixed interval for the
// lifetime of the service. Points are retained for a short rolling window
// (bounded by age, not count) and periodically persisted so live charts
// survive a restart. Sensor failures degrade to null fields and never stop
// collection of the remaining fields.
type Sampler struct {
	interval time.Duration
	window   time.Duration
	path     string
	logger   *zap.Logger

	mu     sync.Mutex
	points []SystemPoint

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// NewSampler creates a sampler and loads any previously persisted points
// that are still inside the window.
func NewSampler(cfg SamplerConfig, logger *zap.Logger) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultSystemWindow
	}

	s := &Sampler{
		interval: cfg.Interval,
		window:   cfg.Window,
		path:     cfg.Path,
		logger:   logger.Named("sampler"),
		now:      time.Now,
	}

	var points []SystemPoint
	if err := jsonutil.ReadFile(cfg.Path, &points); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("could not load persisted system metrics", zap.Error(err))
		}
	} else {
		s.points = points
		s.pruneLocked()
	}

	return s
}

// Start launches the background sampling loop. Call Stop to shut it down.
func (s *Sampler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx)
	s.logger.Info("system sampler started", zap.Duration("interval", s.interval))
}

// Stop cancels the sampling loop, waits for it to finish, and flushes any
// unsaved points to disk.
func (s *Sampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.persist()
	s.logger.Info("system sampler stopped")
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	sinceLastPersist := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			point := s.Sample(ctx)

			s.mu.Lock()
			s.points = append(s.points, point)
			s.pruneLocked()
			s.mu.Unlock()

			sinceLastPersist++
			if sinceLastPersist >= persistEvery {
				s.persist()
				sinceLastPersist = 0
			}
		}
	}
}

// Sample reads CPU, memory, and temperature once. Each field that cannot be
// read is left nil and the failure is logged at debug level.
func (s *Sampler) Sample(ctx context.Context) SystemPoint {
	point := SystemPoint{Timestamp: s.now()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.logger.Debug("cpu sample failed", zap.Error(err))
	} else if len(percents) > 0 {
		point.CPUPercent = &percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Debug("memory sample failed", zap.Error(err))
	} else {
		usedPercent := vm.UsedPercent
		usedMB := float64(vm.Used) / (1024 * 1024)
		point.MemoryPercent = &usedPercent
		point.MemoryMB = &usedMB
	}

	if temp, ok := readCPUTemperature(ctx); ok {
		point.TemperatureC = &temp
	} else {
		s.logger.Debug("temperature sample unavailable")
	}

	return point
}

// readCPUTemperature picks the CPU package sensor when one is identifiable,
// otherwise the first reported sensor. Many machines expose none at all.
func readCPUTemperature(ctx context.Context) (float64, bool) {
	stats, err := sensors.TemperaturesWithContext(ctx)
	if err != nil || len(stats) == 0 {
		return 0, false
	}
	for _, st := range stats {
		key := strings.ToLower(st.SensorKey)
		if strings.Contains(key, "coretemp") || strings.Contains(key, "cpu") || strings.Contains(key, "k10temp") {
			return st.Temperature, true
		}
	}
	return stats[0].Temperature, true
}

// Latest returns the most recent point, or nil when none exist.
func (s *Sampler) Latest() *SystemPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.points) == 0 {
		return nil
	}
	point := s.points[len(s.points)-1]
	return &point
}

// Points returns a copy of the rolling window for chart rendering.
func (s *Sampler) Points() []SystemPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SystemPoint, len(s.points))
	copy(out, s.points)
	return out
}

func (s *Sampler) pruneLocked() {
	cutoff := s.now().Add(-s.window)
	firstKept := len(s.points)
	for i, p := range s.points {
		if !p.Timestamp.Before(cutoff) {
			firstKept = i
			break
		}
	}
	if firstKept > 0 {
		s.points = append([]SystemPoint(nil), s.points[firstKept:]...)
	}
}

func (s *Sampler) persist() {
	s.mu.Lock()
	points := make([]SystemPoint, len(s.points))
	copy(points, s.points)
	s.mu.Unlock()

	if err := jsonutil.WriteAtomic(s.path, points); err != nil {
		s.logger.Warn("failed to persist system metrics", zap.Error(err))
	}
}
