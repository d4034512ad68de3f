// Package refinery drives a full run: scan the input wheels, plan what to
// build, schedule the jobs and run them over a bounded worker pool.
package refinery

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/builder"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/config"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/history"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/manifest"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/objectstore"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/plan"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/resolver"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/scanner"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/scheduler"
)

// History is the slice of the history store a run needs.
type History interface {
	builder.Recorder
	scheduler.Summarizer
	LastEvent(ctx context.Context, name, version string) (*history.Event, error)
}

// WheelBuilder abstracts the builder for tests.
type WheelBuilder interface {
	EnsureReady(ctx context.Context) error
	BuildJob(ctx context.Context, job plan.Job) (builder.Result, error)
	Completed(name, version string) bool
}

// Options configure one run.
type Options struct {
	InputDir          string
	OutputDir         string
	Jobs              int
	Strategy          string
	SkipKnownFailures bool
	SnapshotPath      string
	Resolver          resolver.Options
	Publish           objectstore.Store
}

// Runner executes runs against one configuration and history store.
type Runner struct {
	cfg     *config.Config
	history History
	builder WheelBuilder
	runID   string

	mu      sync.Mutex
	entries []manifest.Entry
}

// NewRunner wires a runner from its collaborators. history may be nil.
func NewRunner(cfg *config.Config, hist History, wb WheelBuilder, runID string) *Runner {
	return &Runner{cfg: cfg, history: hist, builder: wb, runID: runID}
}

// Run executes the full pipeline and returns the manifest. The returned
// error covers infrastructure problems; per-package build failures land in
// the manifest instead.
func (r *Runner) Run(ctx context.Context, opts Options) (manifest.Manifest, error) {
	log.Printf("scanning input directory %s", opts.InputDir)
	wheels, err := scanner.Scan(opts.InputDir)
	if err != nil {
		return manifest.Manifest{}, err
	}
	buildPlan, err := resolver.BuildPlan(ctx, wheels, r.cfg, opts.Resolver)
	if err != nil {
		return manifest.Manifest{}, err
	}
	if opts.SnapshotPath != "" {
		snap := plan.NewSnapshot(buildPlan, r.runID, r.cfg.PythonTag(), r.cfg.TargetPlatformTag)
		if err := plan.WriteSnapshot(snap, opts.SnapshotPath); err != nil {
			return manifest.Manifest{}, fmt.Errorf("write plan snapshot: %w", err)
		}
	}

	for _, reusable := range buildPlan.Reusable {
		if err := r.reuse(ctx, opts, reusable); err != nil {
			return manifest.Manifest{}, err
		}
	}

	jobs := r.filterKnownFailures(ctx, buildPlan.ToBuild, opts.SkipKnownFailures)
	jobs = scheduler.Schedule(ctx, jobs, r.history, opts.Strategy)

	if err := r.builder.EnsureReady(ctx); err != nil {
		return manifest.Manifest{}, err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	limit := opts.Jobs
	if limit < 1 {
		limit = 1
	}
	group.SetLimit(limit)
	for _, job := range jobs {
		job := job
		group.Go(func() error {
			r.buildOne(groupCtx, opts, job)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return manifest.Manifest{}, err
	}

	for _, missing := range buildPlan.MissingRequirements {
		r.recordMissing(ctx, missing)
	}
	for _, job := range buildPlan.DependencyExpansions {
		r.record(ctx, history.Event{
			RunID:       r.runID,
			Name:        job.Name,
			Version:     job.Version,
			PythonTag:   r.cfg.PythonTag(),
			PlatformTag: r.cfg.TargetPlatformTag,
			Status:      history.StatusPlannedExpansion,
			SourceSpec:  job.SourceSpec,
			Detail:      "Auto-planned dependency expansion",
		})
	}

	return manifest.Manifest{
		PythonTag:   r.cfg.PythonTag(),
		PlatformTag: r.cfg.TargetPlatformTag,
		Entries:     r.snapshotEntries(),
	}, nil
}

// reuse copies a compatible input wheel straight to the output directory.
func (r *Runner) reuse(ctx context.Context, opts Options, reusable plan.ReusableWheel) error {
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(opts.OutputDir, filepath.Base(reusable.Path))
	if err := copyFile(reusable.Path, dest); err != nil {
		return fmt.Errorf("copy reusable wheel %s: %w", reusable.Path, err)
	}
	entry := manifest.Entry{
		Name:    reusable.Name,
		Version: reusable.Version,
		Status:  manifest.StatusReused,
		Path:    dest,
		Detail:  "Pure Python or already compatible",
	}
	r.append(entry)
	r.record(ctx, history.Event{
		RunID:       r.runID,
		Name:        reusable.Name,
		Version:     reusable.Version,
		PythonTag:   r.cfg.PythonTag(),
		PlatformTag: r.cfg.TargetPlatformTag,
		Status:      history.StatusReused,
		SourceSpec:  "input wheel",
		Detail:      entry.Detail,
		WheelPath:   dest,
		Cached:      true,
		Metadata:    map[string]any{"source": "input"},
	})
	r.publish(ctx, opts, entry)
	return nil
}

// filterKnownFailures drops jobs whose last recorded outcome was terminal
// when the policy asks for it, recording a skip entry for each.
func (r *Runner) filterKnownFailures(ctx context.Context, jobs []plan.Job, skip bool) []plan.Job {
	if !skip || r.history == nil {
		return jobs
	}
	kept := make([]plan.Job, 0, len(jobs))
	for _, job := range jobs {
		last, err := r.history.LastEvent(ctx, job.Name, job.Version)
		if err != nil {
			log.Printf("history lookup for %s==%s: %v", job.Name, job.Version, err)
		}
		if last == nil || !terminalFailure(last.Status) {
			kept = append(kept, job)
			continue
		}
		detail := fmt.Sprintf("Skipped: last status %s at %s", last.Status, last.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		r.append(manifest.Entry{
			Name:    job.Name,
			Version: job.Version,
			Status:  manifest.StatusSkippedKnown,
			Detail:  detail,
		})
		r.record(ctx, history.Event{
			RunID:       r.runID,
			Name:        job.Name,
			Version:     job.Version,
			PythonTag:   r.cfg.PythonTag(),
			PlatformTag: r.cfg.TargetPlatformTag,
			Status:      history.StatusSkippedKnown,
			SourceSpec:  job.SourceSpec,
			Detail:      detail,
		})
		log.Printf("skipping %s==%s due to known failure in history", job.Name, job.Version)
	}
	return kept
}

func terminalFailure(status string) bool {
	switch status {
	case history.StatusFailed, history.StatusMissing, history.StatusRecipeFailed:
		return true
	}
	return false
}

// buildOne runs a job, records its outcome and requeues its parents after a
// successful dependency build. Requeued jobs carry no parents of their own,
// so the chain terminates once every ancestor has been rebuilt.
func (r *Runner) buildOne(ctx context.Context, opts Options, job plan.Job) {
	result, err := r.builder.BuildJob(ctx, job)
	if err != nil {
		r.buildFailed(ctx, job, err)
		return
	}
	r.append(result.Entry)
	r.publish(ctx, opts, result.Entry)
	r.requeueParents(ctx, opts, job)
}

func (r *Runner) buildFailed(ctx context.Context, job plan.Job, err error) {
	var meta map[string]any
	if attErr, ok := err.(*builder.AttemptError); ok {
		meta = map[string]any{
			history.MetaLogPath:  attErr.LogPath,
			history.MetaHint:     attErr.Hint,
			history.MetaDuration: attErr.Duration,
		}
	}
	log.Printf("build failed for %s: %v", job.Name, err)
	r.append(manifest.Entry{
		Name:     job.Name,
		Version:  job.Version,
		Status:   manifest.StatusFailed,
		Detail:   err.Error(),
		Metadata: meta,
	})
	r.record(ctx, history.Event{
		RunID:       r.runID,
		Name:        job.Name,
		Version:     job.Version,
		PythonTag:   r.cfg.PythonTag(),
		PlatformTag: r.cfg.TargetPlatformTag,
		Status:      history.StatusFailed,
		SourceSpec:  job.SourceSpec,
		Detail:      err.Error(),
		Metadata:    meta,
	})
}

// requeueParents rebuilds each parent of a freshly built dependency so the
// parent picks the new wheel up. Parents already completed this run are
// left alone.
func (r *Runner) requeueParents(ctx context.Context, opts Options, job plan.Job) {
	seen := map[string]bool{}
	for _, parent := range job.Parents {
		name := strings.ToLower(parent)
		if seen[name] || r.builder.Completed(name, plan.VersionLatest) {
			continue
		}
		seen[name] = true
		parentJob := plan.Job{
			Name:        name,
			Version:     plan.VersionLatest,
			PythonTag:   r.cfg.PythonTag(),
			PlatformTag: r.cfg.TargetPlatformTag,
			SourceSpec:  name,
			Reason:      plan.ReasonRequeuedParent,
			Depth:       job.Depth + 1,
		}
		r.record(ctx, history.Event{
			RunID:       r.runID,
			Name:        parentJob.Name,
			Version:     parentJob.Version,
			PythonTag:   r.cfg.PythonTag(),
			PlatformTag: r.cfg.TargetPlatformTag,
			Status:      history.StatusRequeuedParent,
			SourceSpec:  parentJob.SourceSpec,
			Detail:      "Requeued after dependency build",
		})
		result, err := r.builder.BuildJob(ctx, parentJob)
		if err != nil {
			r.buildFailed(ctx, parentJob, err)
			continue
		}
		r.append(result.Entry)
		r.publish(ctx, opts, result.Entry)
	}
}

func (r *Runner) recordMissing(ctx context.Context, name string) {
	detail := "No pinned version to build; provide override or input wheel."
	r.append(manifest.Entry{
		Name:    name,
		Version: "unknown",
		Status:  manifest.StatusMissing,
		Detail:  detail,
	})
	r.record(ctx, history.Event{
		RunID:       r.runID,
		Name:        name,
		Version:     "unknown",
		PythonTag:   r.cfg.PythonTag(),
		PlatformTag: r.cfg.TargetPlatformTag,
		Status:      history.StatusMissing,
		SourceSpec:  name,
		Detail:      detail,
	})
}

func (r *Runner) publish(ctx context.Context, opts Options, entry manifest.Entry) {
	if opts.Publish == nil || entry.Path == "" {
		return
	}
	if err := objectstore.PublishWheel(ctx, opts.Publish, entry.Name, entry.Version, entry.Path); err != nil {
		log.Printf("publish wheel for %s==%s: %v", entry.Name, entry.Version, err)
	}
}

func (r *Runner) append(entry manifest.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *Runner) snapshotEntries() []manifest.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]manifest.Entry(nil), r.entries...)
}

func (r *Runner) record(ctx context.Context, evt history.Event) {
	if r.history == nil {
		return
	}
	if err := r.history.RecordEvent(ctx, evt); err != nil {
		log.Printf("record %s event for %s: %v", evt.Status, evt.Name, err)
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
