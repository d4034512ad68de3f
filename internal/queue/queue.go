// Package queue holds retry requests for wheels that failed to build.
// Operators enqueue a package with optional recipe steps; the next run
// drains the queue and layers the recipes onto the package's override.
package queue

import (
	"context"
	"strings"
)

// Request asks for one package to be rebuilt.
type Request struct {
	Package     string   `json:"package"`
	Version     string   `json:"version"`
	PythonTag   string   `json:"python_tag,omitempty"`
	PlatformTag string   `json:"platform_tag,omitempty"`
	Recipes     []string `json:"recipes,omitempty"`
	EnqueuedAt  int64    `json:"enqueued_at,omitempty"`
	Attempts    int      `json:"attempts,omitempty"`
	RunID       string   `json:"run_id,omitempty"`
}

// Backend is a retry queue implementation.
type Backend interface {
	Enqueue(ctx context.Context, req Request) error
	List(ctx context.Context) ([]Request, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Pop(ctx context.Context, max int) ([]Request, error)
}

// Stats summarizes queue depth and oldest item age.
type Stats struct {
	Length    int   `json:"length"`
	OldestAge int64 `json:"oldest_age_seconds"`
}

// Open picks a backend from the spec: redis:// and rediss:// URLs get
// Redis, kafka://host:port/topic gets Kafka, anything else is a file path.
func Open(spec string) Backend {
	switch {
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"):
		return NewRedisQueue(spec, "")
	case strings.HasPrefix(spec, "kafka://"):
		rest := strings.TrimPrefix(spec, "kafka://")
		brokers, topic := rest, ""
		if i := strings.Index(rest, "/"); i >= 0 {
			brokers, topic = rest[:i], rest[i+1:]
		}
		return NewKafkaQueue(brokers, topic)
	default:
		return NewFileQueue(spec)
	}
}
