package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/applykit/applykit-engine/pkg/jsonutil"
)

// DefaultRetentionDays is how long entries stay in active shards before
// archival when no retention is configured.
const DefaultRetentionDays = 30

const (
	monthLayout = "2006_01"
	archiveDir  = "archive"
)

// SystemSource provides the most recent system-health snapshot.
// The Sampler implements this.
type SystemSource interface {
	Latest() *SystemPoint
}

// Config holds metrics store settings.
type Config struct {
	Dir           string
	RetentionDays int
}

// Store persists inference telemetry as one JSON shard per calendar month,
// with entries older than the retention window frozen into archive shards.
// Each shard write is a full atomic file replace, so a crash mid-write
// cannot corrupt the previous valid file.
type Store struct {
	mu            sync.Mutex
	dir           string
	retentionDays int
	logger        *zap.Logger

	// current month's entries, mirrored to the active shard on every record
	current      []Entry
	currentMonth string

	systemSource SystemSource

	// now is replaceable in tests
	now func() time.Time
}

// New creates the store, runs retention-based archival over the active
// shards, and loads the current month's entries into memory.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, archiveDir), 0o755); err != nil {
		return nil, fmt.Errorf("create metrics dir: %w", err)
	}

	s := &Store{
		dir:           cfg.Dir,
		retentionDays: cfg.RetentionDays,
		logger:        logger.Named("metrics"),
		now:           time.Now,
	}

	if err := s.archiveOld(); err != nil {
		// Archival failure must not keep the service from starting.
		s.logger.Error("metrics archival failed", zap.Error(err))
	}

	s.currentMonth = s.now().Format(monthLayout)
	entries, err := s.loadShard(s.activePath(s.currentMonth))
	if err != nil {
		s.logger.Warn("could not load current month shard, starting empty", zap.Error(err))
		entries = nil
	}
	s.current = entries

	return s, nil
}

// SetSystemSource attaches a provider of system snapshots. When set, every
// recorded entry without its own snapshot gets the latest one.
func (s *Store) SetSystemSource(src SystemSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemSource = src
}

// Record appends one entry and persists the current month's shard.
// Persistence failures are logged and never returned: callers must not
// depend on metrics availability.
func (s *Store) Record(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if entry.System == nil && s.systemSource != nil {
		entry.System = s.systemSource.Latest()
	}

	month := entry.Timestamp.Format(monthLayout)
	if month != s.currentMonth {
		// Month boundary: flush the outgoing month and start fresh.
		s.persistLocked()
		s.currentMonth = month
		s.current = nil
	}

	s.current = append(s.current, entry)
	s.persistLocked()
}

// Flush persists the current month's shard. Called on shutdown.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}

func (s *Store) persistLocked() {
	if s.currentMonth == "" {
		return
	}
	if err := jsonutil.WriteAtomic(s.activePath(s.currentMonth), s.current); err != nil {
		s.logger.Error("failed to persist metrics shard",
			zap.String("month", s.currentMonth),
			zap.Error(err))
	}
}

func (s *Store) activePath(month string) string {
	return filepath.Join(s.dir, "metrics_"+month+".json")
}

func (s *Store) archivePath(month string) string {
	return filepath.Join(s.dir, archiveDir, "metrics_"+month+".json")
}

func (s *Store) loadShard(path string) ([]Entry, error) {
	var entries []Entry
	if err := jsonutil.ReadFile(path, &entries); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

// activeShardPaths lists the active month files, excluding the archive dir.
func (s *Store) activeShardPaths() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasPrefix(name, "metrics_") && strings.HasSuffix(name, ".json") {
			paths = append(paths, filepath.Join(s.dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// archiveOld moves entries older than the retention window from active
// shards into per-month archive files. Archives are merged with any existing
// archive for the month and deduplicated by entry ID, so running archival
// twice over the same data produces no duplicates.
func (s *Store) archiveOld() error {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)

	paths, err := s.activeShardPaths()
	if err != nil {
		return fmt.Errorf("list active shards: %w", err)
	}

	for _, path := range paths {
		entries, err := s.loadShard(path)
		if err != nil {
			s.logger.Warn("skipping unreadable metrics shard", zap.String("path", path), zap.Error(err))
			continue
		}

		var keep []Entry
		oldByMonth := make(map[string][]Entry)
		for _, e := range entries {
			if e.Timestamp.Before(cutoff) {
				month := e.Timestamp.Format(monthLayout)
				oldByMonth[month] = append(oldByMonth[month], e)
			} else {
				keep = append(keep, e)
			}
		}
		if len(oldByMonth) == 0 {
			continue
		}

		for month, old := range oldByMonth {
			if err := s.mergeIntoArchive(month, old); err != nil {
				return fmt.Errorf("archive month %s: %w", month, err)
			}
		}

		if len(keep) == 0 {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove drained shard %s: %w", path, err)
			}
		} else {
			if err := jsonutil.WriteAtomic(path, keep); err != nil {
				return fmt.Errorf("rewrite shard %s: %w", path, err)
			}
		}

		s.logger.Info("archived metrics entries",
			zap.String("shard", filepath.Base(path)),
			zap.Int("kept", len(keep)),
			zap.Int("archived", len(entries)-len(keep)))
	}
	return nil
}

func (s *Store) mergeIntoArchive(month string, entries []Entry) error {
	existing, err := s.loadShard(s.archivePath(month))
	if err != nil {
		return err
	}

	seen := make(map[uuid.UUID]bool, len(existing))
	merged := existing
	for _, e := range existing {
		seen[e.ID] = true
	}
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	return jsonutil.WriteAtomic(s.archivePath(month), merged)
}

// entriesInRange loads entries with from <= Timestamp < to from both active
// and archive shards.
func (s *Store) entriesInRange(from, to time.Time) ([]Entry, error) {
	paths, err := s.activeShardPaths()
	if err != nil {
		return nil, err
	}

	archEntries, err := os.ReadDir(filepath.Join(s.dir, archiveDir))
	if err == nil {
		for _, de := range archEntries {
			if !de.IsDir() && strings.HasSuffix(de.Name(), ".json") {
				paths = append(paths, filepath.Join(s.dir, archiveDir, de.Name()))
			}
		}
	}

	var out []Entry
	for _, path := range paths {
		entries, err := s.loadShard(path)
		if err != nil {
			s.logger.Warn("skipping unreadable metrics shard", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
