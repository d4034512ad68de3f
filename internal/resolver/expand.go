package resolver

import (
	"sort"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/plan"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/wheel"
)

// expandDependencies synthesizes build jobs for dependency names that no
// scanned or planned wheel covers, one generation per resolve call. The
// depth field carries multi-generation intent but expansion deliberately
// does not re-invoke itself within a single call.
func expandDependencies(p *plan.Plan, wheels []wheel.Info, pythonTag, platformTag string, opts Options) {
	if opts.Index == nil || opts.MaxDepDepth <= 0 {
		return
	}
	var inBudget []plan.Job
	for _, job := range p.ToBuild {
		if job.Depth < opts.MaxDepDepth {
			inBudget = append(inBudget, job)
		}
	}
	if len(inBudget) == 0 {
		return
	}
	missing := missingDependencyNames(wheels, inBudget)
	if len(missing) == 0 {
		return
	}
	parents := make([]string, 0, len(inBudget))
	seen := map[string]bool{}
	for _, job := range inBudget {
		if !seen[job.Name] {
			seen[job.Name] = true
			parents = append(parents, job.Name)
		}
	}
	sort.Strings(parents)

	count := 0
	for _, name := range missing {
		if count >= opts.MaxDepJobs {
			break
		}
		job := plan.Job{
			Name:        name,
			Version:     plan.VersionLatest,
			PythonTag:   pythonTag,
			PlatformTag: platformTag,
			SourceSpec:  name,
			Reason:      plan.ReasonDependencyExpansion,
			Depth:       1,
			Parents:     parents,
		}
		if p.Add(job) {
			p.DependencyExpansions = append(p.DependencyExpansions, job)
			count++
		}
	}
}

// missingDependencyNames returns the sorted set of dependency names that
// appear in wheel requirements but match no scanned wheel and no planned job.
func missingDependencyNames(wheels []wheel.Info, planned []plan.Job) []string {
	plannedNames := map[string]bool{}
	for _, job := range planned {
		plannedNames[wheel.NormalizeName(job.Name)] = true
	}
	wheelNames := map[string]bool{}
	for _, info := range wheels {
		wheelNames[wheel.NormalizeName(info.Name)] = true
	}
	missing := map[string]bool{}
	for _, info := range wheels {
		for _, req := range info.Requires {
			if !wheelNames[req.Name] && !plannedNames[req.Name] {
				missing[req.Name] = true
			}
		}
	}
	out := make([]string, 0, len(missing))
	for name := range missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
