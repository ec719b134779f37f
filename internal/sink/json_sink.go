// Package sink persists the harvest output artifact: a single indented JSON
// array of detail records.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/forum-qa-harvester/internal/forum"
)

// ArtifactSink writes detail records to a JSON file. The same sink serves
// both per-chunk checkpoints and the final write; each call replaces the
// artifact with the full record set so the external contract (one array per
// run) never changes.
type ArtifactSink struct {
	path   string
	logger *zap.Logger
}

// New returns a sink targeting path, creating parent directories as needed.
func New(path string, logger *zap.Logger) (*ArtifactSink, error) {
	if path == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	return &ArtifactSink{path: path, logger: logger}, nil
}

// Path returns the artifact location.
func (s *ArtifactSink) Path() string { return s.path }

// Write serializes records to the artifact. The write goes through a temp
// file and rename so a crash mid-write never leaves a truncated artifact for
// the next run's dedup load.
func (s *ArtifactSink) Write(records []forum.DetailRecord) error {
	if records == nil {
		records = []forum.DetailRecord{}
	}
	payload, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write artifact %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("finalize artifact %s: %w", s.path, err)
	}
	s.logger.Debug("artifact written",
		zap.String("path", s.path), zap.Int("records", len(records)))
	return nil
}
