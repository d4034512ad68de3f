package refinery

import (
	"context"
	"log"
	"strings"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/config"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/manifest"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/plan"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/queue"
)

// DrainQueue pops up to max retry requests, layers their recipe steps onto
// the package overrides and builds each request. A request matching a job in
// the current plan inherits that job's reason and resource hints; anything
// else is built as a fresh pinned job.
func (r *Runner) DrainQueue(ctx context.Context, opts Options, backend queue.Backend, buildPlan *plan.Plan, max int) ([]manifest.Entry, error) {
	requests, err := backend.Pop(ctx, max)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, nil
	}
	if err := r.builder.EnsureReady(ctx); err != nil {
		return nil, err
	}
	before := len(r.snapshotEntries())
	for _, req := range requests {
		r.layerRecipes(req)
		job := r.jobForRequest(req, buildPlan)
		log.Printf("draining retry request for %s==%s", job.Name, job.Version)
		r.buildOne(ctx, opts, job)
	}
	entries := r.snapshotEntries()
	return entries[before:], nil
}

// layerRecipes appends a request's recipe steps to the package override,
// creating the override when absent. Repeated steps are ignored.
func (r *Runner) layerRecipes(req queue.Request) {
	if len(req.Recipes) == 0 {
		return
	}
	r.cfg.AmendOverride(req.Package, func(override *config.PackageOverride) {
		for _, step := range req.Recipes {
			if !containsStep(override.SystemRecipe, step) {
				override.SystemRecipe = append(override.SystemRecipe, step)
			}
		}
	})
}

func (r *Runner) jobForRequest(req queue.Request, buildPlan *plan.Plan) plan.Job {
	name := strings.ToLower(req.Package)
	if buildPlan != nil {
		for _, job := range buildPlan.ToBuild {
			if strings.ToLower(job.Name) == name && (req.Version == "" || job.Version == req.Version) {
				return job
			}
		}
	}
	version := req.Version
	sourceSpec := req.Package
	if version == "" {
		version = plan.VersionLatest
	} else {
		sourceSpec = req.Package + "==" + version
	}
	pythonTag := req.PythonTag
	if pythonTag == "" {
		pythonTag = r.cfg.PythonTag()
	}
	platformTag := req.PlatformTag
	if platformTag == "" {
		platformTag = r.cfg.TargetPlatformTag
	}
	return plan.Job{
		Name:        req.Package,
		Version:     version,
		PythonTag:   pythonTag,
		PlatformTag: platformTag,
		SourceSpec:  sourceSpec,
		Reason:      plan.ReasonRetryRequest,
	}
}

func containsStep(steps []string, step string) bool {
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}
