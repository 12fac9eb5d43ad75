// Package cache implements the two-tier response cache for inference calls:
// a strict-LRU in-memory tier in front of a file-backed tier with one JSON
// file per key. Both tiers enforce per-entry TTL independently. The cache is
// a best-effort optimization: file I/O failures are logged and degrade to
// misses, never surfaced to callers.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one cached response record.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	HitCount  int             `json:"hit_count"`
}

// expired reports whether the entry is past its TTL at time now.
func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Key derives a deterministic cache key from any request-defining payload.
// The payload is marshaled to canonical JSON (struct field order is fixed in
// Go) and hashed, so two logically identical requests always map to the same
// key and any differing field yields a different one.
func Key(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Store is the two-tier cache. All tier mutation paths are guarded by a
// single mutex per store instance.
type Store struct {
	mu     sync.Mutex
	mem    *memoryTier
	file   *fileTier
	logger *zap.Logger
}

// Config holds cache store settings.
type Config struct {
	Dir            string // file tier directory
	MemoryCapacity int    // LRU entry bound, default 100
}

// DefaultMemoryCapacity bounds the memory tier when no capacity is given.
const DefaultMemoryCapacity = 100

// NewStore creates a two-tier store rooted at cfg.Dir.
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	capacity := cfg.MemoryCapacity
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}

	file, err := newFileTier(cfg.Dir)
	if err != nil {
		return nil, err
	}

	return &Store{
		mem:    newMemoryTier(capacity),
		file:   file,
		logger: logger.Named("cache"),
	}, nil
}

// Get returns the cached value for key, or ok=false when absent or expired.
// Memory tier is checked first; an unexpired file-tier hit is promoted into
// memory. Expired entries are purged from whichever tier held them.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if entry, ok := s.mem.get(key); ok {
		if entry.expired(now) {
			s.mem.delete(key)
			if err := s.file.delete(key); err != nil {
				s.logger.Warn("failed to remove expired cache file", zap.String("key", key), zap.Error(err))
			}
			return nil, false
		}
		entry.HitCount++
		s.logger.Debug("cache hit (memory)", zap.String("key", key), zap.Int("hit_count", entry.HitCount))
		return entry.Value, true
	}

	entry, err := s.file.get(key)
	if err != nil {
		// Read or parse failures are treated as misses. Unparsable records
		// are removed the same way expired ones are.
		s.logger.Warn("cache file unreadable, treating as miss", zap.String("key", key), zap.Error(err))
		_ = s.file.delete(key)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	if entry.expired(now) {
		if err := s.file.delete(key); err != nil {
			s.logger.Warn("failed to remove expired cache file", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	entry.HitCount++
	if err := s.file.set(entry); err != nil {
		s.logger.Warn("failed to persist cache hit count", zap.String("key", key), zap.Error(err))
	}

	// Promote into memory, evicting the LRU tail at capacity.
	s.mem.set(entry)
	s.logger.Debug("cache hit (file, promoted)", zap.String("key", key))
	return entry.Value, true
}

// Set writes value to both tiers with the given TTL. A file-tier write
// failure is logged but does not roll back the memory-tier write.
func (s *Store) Set(key string, value json.RawMessage, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry := &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	s.mem.set(entry)
	if err := s.file.set(entry); err != nil {
		s.logger.Warn("failed to write cache file", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes key from both tiers.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.delete(key)
	if err := s.file.delete(key); err != nil {
		s.logger.Warn("failed to delete cache file", zap.String("key", key), zap.Error(err))
	}
}

// Clear removes every entry from both tiers.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.clear()
	if err := s.file.clear(); err != nil {
		s.logger.Warn("failed to clear cache dir", zap.Error(err))
	}
}

// CleanupExpired scans the file tier and removes any entry whose TTL has
// passed or whose record is unparsable. Returns the number of removed files.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.file.cleanupExpired(time.Now())
	if err != nil {
		s.logger.Warn("cache cleanup scan failed", zap.Error(err))
	}
	if removed > 0 {
		s.logger.Info("cache cleanup removed expired entries", zap.Int("removed", removed))
	}
	return removed
}

// Len returns the number of entries currently in the memory tier.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.len()
}
