package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/applykit/applykit-engine/pkg/jsonutil"
)

// fileTier stores one JSON file per key under a single directory. It has no
// count bound; TTL plus periodic cleanup keep it from growing without limit.
type fileTier struct {
	dir string
}

func newFileTier(dir string) (*fileTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &fileTier{dir: dir}, nil
}

func (f *fileTier) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// get returns the entry for key, nil when the file does not exist, or an
// error when the file exists but cannot be read or parsed.
func (f *fileTier) get(key string) (*Entry, error) {
	var entry Entry
	if err := jsonutil.ReadFile(f.path(key), &entry); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (f *fileTier) set(entry *Entry) error {
	return jsonutil.WriteAtomic(f.path(entry.Key), entry)
}

func (f *fileTier) delete(key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *fileTier) clear() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, de.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// cleanupExpired removes files whose entry is past its TTL at time now, and
// files that cannot be parsed. Corruption is treated as expiry, not an error.
func (f *fileTier) cleanupExpired(now time.Time) (int, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(f.dir, de.Name())

		var entry Entry
		if err := jsonutil.ReadFile(path, &entry); err != nil {
			if os.Remove(path) == nil {
				removed++
			}
			continue
		}
		if entry.expired(now) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
