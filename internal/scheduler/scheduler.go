// Package scheduler orders build jobs before submission to the worker pool.
package scheduler

import (
	"context"
	"math"
	"sort"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/history"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/plan"
)

// Strategies understood by Schedule.
const (
	ShortestFirst = "shortest-first"
	FIFO          = "fifo"
)

// Summarizer is the slice of the history store the scheduler reads.
type Summarizer interface {
	PackageSummary(ctx context.Context, name string) (history.PackageSummary, error)
}

// Schedule orders jobs for submission. shortest-first sorts stably by depth,
// then historical average duration (unknown sorts last), then declared CPU
// and memory hints, so shallow, historically fast jobs run first. fifo keeps
// submission order. Output is deterministic for identical inputs and history.
func Schedule(ctx context.Context, jobs []plan.Job, hist Summarizer, strategy string) []plan.Job {
	if strategy != ShortestFirst {
		return append([]plan.Job(nil), jobs...)
	}
	type keyed struct {
		job      plan.Job
		duration float64
	}
	scheduled := make([]keyed, 0, len(jobs))
	for _, job := range jobs {
		duration := math.Inf(1)
		if hist != nil {
			if summary, err := hist.PackageSummary(ctx, job.Name); err == nil && summary.HasDuration {
				duration = summary.AvgDuration
			}
		}
		scheduled = append(scheduled, keyed{job: job, duration: duration})
	}
	sort.SliceStable(scheduled, func(i, j int) bool {
		a, b := scheduled[i], scheduled[j]
		if a.job.Depth != b.job.Depth {
			return a.job.Depth < b.job.Depth
		}
		if a.duration != b.duration {
			return a.duration < b.duration
		}
		if a.job.ResourceCPU != b.job.ResourceCPU {
			return a.job.ResourceCPU < b.job.ResourceCPU
		}
		return a.job.ResourceMem < b.job.ResourceMem
	})
	out := make([]plan.Job, len(scheduled))
	for i, k := range scheduled {
		out[i] = k.job
	}
	return out
}
