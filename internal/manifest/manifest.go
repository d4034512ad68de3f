// Package manifest is the run's result record consumed by reporting layers.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Entry statuses.
const (
	StatusReused       = "reused"
	StatusBuilt        = "built"
	StatusCached       = "cached"
	StatusMissing      = "missing"
	StatusFailed       = "failed"
	StatusSkippedKnown = "skipped_known_failure"
)

// Entry records the outcome for one package.
type Entry struct {
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Status   string         `json:"status"`
	Path     string         `json:"path,omitempty"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Manifest is the full run result.
type Manifest struct {
	PythonTag   string  `json:"python_tag"`
	PlatformTag string  `json:"platform_tag"`
	Entries     []Entry `json:"entries"`
}

// HasFailures reports whether any entry failed or is missing; it drives the
// run's exit status.
func (m Manifest) HasFailures() bool {
	for _, entry := range m.Entries {
		if entry.Status == StatusFailed || entry.Status == StatusMissing {
			return true
		}
	}
	return false
}

// Write serializes the manifest to path as indented JSON.
func Write(m Manifest, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
