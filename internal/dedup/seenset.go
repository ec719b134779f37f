// Package dedup loads the set of URLs captured by prior harvest runs so the
// current run never re-fetches or re-emits a record it already owns.
package dedup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// SeenSet is a membership test over previously harvested URLs. It is built
// once at run start and read-only afterwards, so concurrent lookups from the
// fetch goroutines need no locking.
type SeenSet map[string]struct{}

// Contains reports whether url was captured by a prior run.
func (s SeenSet) Contains(url string) bool {
	_, ok := s[url]
	return ok
}

// Len returns the number of known URLs.
func (s SeenSet) Len() int { return len(s) }

// urlRecord is the minimal shape read from artifact files; fields other than
// url are ignored.
type urlRecord struct {
	URL string `json:"url"`
}

// Load reads every JSON artifact in dir and unions their url fields. A
// missing or empty directory yields an empty set: a cold-start run proceeds
// as "nothing seen yet". Individual unreadable or malformed files are logged
// and skipped.
func Load(dir string, logger *zap.Logger) (SeenSet, error) {
	seen := make(SeenSet)
	if dir == "" {
		return seen, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no prior artifacts directory, harvesting all data as new",
				zap.String("dir", dir))
			return seen, nil
		}
		return nil, fmt.Errorf("read artifacts dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := mergeFile(path, seen); err != nil {
			logger.Warn("skipping unreadable prior artifact",
				zap.String("path", path), zap.Error(err))
		}
	}
	logger.Info("loaded previously harvested URLs",
		zap.String("dir", dir), zap.Int("count", seen.Len()))
	return seen, nil
}

func mergeFile(path string, seen SeenSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var records []urlRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	for _, rec := range records {
		if rec.URL != "" {
			seen[rec.URL] = struct{}{}
		}
	}
	return nil
}
