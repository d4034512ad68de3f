// Package history is the append-only build event log and its aggregate
// queries. Events are never updated or deleted; every aggregate is derived
// by replaying rows.
package history

import (
	"time"
)

// Event statuses recorded in the log.
const (
	StatusReused             = "reused"
	StatusBuilt              = "built"
	StatusCached             = "cached"
	StatusMissing            = "missing"
	StatusFailed             = "failed"
	StatusFailedAttempt      = "failed_attempt"
	StatusSkippedKnown       = "skipped_known_failure"
	StatusRecipeRan          = "system_recipe_ran"
	StatusRecipeFailed       = "system_recipe_failed"
	StatusRequeuedParent     = "requeued_parent"
	StatusPlannedExpansion   = "planned_dependency_expansion"
)

// Metadata keys the aggregates understand.
const (
	MetaVariant  = "variant"
	MetaAttempt  = "attempt"
	MetaLogPath  = "log_path"
	MetaHint     = "hint"
	MetaDuration = "duration_seconds"
)

// Event is one immutable build history row.
type Event struct {
	RunID       string         `json:"run_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	PythonTag   string         `json:"python_tag"`
	PlatformTag string         `json:"platform_tag"`
	Status      string         `json:"status"`
	SourceSpec  string         `json:"source_spec,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	WheelPath   string         `json:"wheel_path,omitempty"`
	Cached      bool           `json:"cached"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Duration extracts the recorded duration from event metadata, if any.
func (e Event) Duration() (float64, bool) {
	raw, ok := e.Metadata[MetaDuration]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// FailureStat counts failure-status events per package.
type FailureStat struct {
	Name     string `json:"name"`
	Failures int    `json:"failures"`
}

// DurationStat ranks packages by average recorded build duration.
type DurationStat struct {
	Name        string  `json:"name"`
	AvgDuration float64 `json:"avg_duration"`
	Failures    int     `json:"failures"`
}

// PackageSummary aggregates one package's history.
type PackageSummary struct {
	Name         string         `json:"name"`
	StatusCounts map[string]int `json:"status_counts"`
	Latest       *Event         `json:"latest,omitempty"`
	AvgDuration  float64        `json:"avg_duration,omitempty"`
	HasDuration  bool           `json:"-"`
}

// failureStatuses are the statuses TopFailures counts.
var failureStatuses = []string{StatusFailed, StatusMissing}
