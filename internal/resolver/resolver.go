// Package resolver classifies scanned wheels against the target and plans
// the builds needed to cover what is incompatible or missing.
package resolver

import (
	"context"
	"fmt"
	"log"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/config"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/plan"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/wheel"
)

// VersionSource discovers remote release versions. Consulted only under
// the eager strategy or when fallback-latest is enabled.
type VersionSource interface {
	Versions(ctx context.Context, project string) []wheel.Version
}

// Options bound the dependency-expansion phase.
type Options struct {
	Index        VersionSource
	MaxDepDepth  int // expansion depth budget, default 2
	MaxDepJobs   int // cap on expansion jobs per resolve call, default 1
}

// BuildPlan runs the three-phase resolution: classify wheels, satisfy
// declared requirements, then one bounded dependency-expansion generation.
// An unparsable version aborts planning; a silently skipped wheel would
// corrupt every later comparison.
func BuildPlan(ctx context.Context, wheels []wheel.Info, cfg *config.Config, opts Options) (*plan.Plan, error) {
	if opts.MaxDepDepth == 0 {
		opts.MaxDepDepth = 2
	}
	if opts.MaxDepJobs == 0 {
		opts.MaxDepJobs = 1
	}
	p := &plan.Plan{}
	pythonTag := cfg.PythonTag()
	reusable := map[string][]wheel.Version{}
	planned := map[string][]wheel.Version{}
	all := map[string][]wheel.Version{}

	// Phase 1: classify existing wheels and collect known versions.
	for _, info := range wheels {
		version, err := wheel.ParseVersion(info.Version)
		if err != nil {
			return nil, fmt.Errorf("wheel %s: %w", info.Filename, err)
		}
		normalized := wheel.NormalizeName(info.Name)
		all[normalized] = append(all[normalized], version)

		if info.IsPurePython() || info.Supports(pythonTag, cfg.TargetPlatformTag) {
			p.Reusable = append(p.Reusable, plan.ReusableWheel{
				Name:    info.Name,
				Version: info.Version,
				Path:    info.Path,
			})
			reusable[normalized] = append(reusable[normalized], version)
			continue
		}
		if !p.Add(plan.Job{
			Name:        info.Name,
			Version:     info.Version,
			PythonTag:   pythonTag,
			PlatformTag: cfg.TargetPlatformTag,
			SourceSpec:  fmt.Sprintf("%s==%s", info.Name, info.Version),
			Reason:      plan.ReasonIncompatibleWheel,
		}) {
			// Same (name, version) already queued from another input wheel.
		}
		planned[normalized] = append(planned[normalized], version)
	}

	// Phase 2: resolve requirements not covered by reusable or planned wheels.
	for _, req := range collectRequirements(wheels) {
		normalized := req.Name
		satisfied := append(append([]wheel.Version{}, reusable[normalized]...), planned[normalized]...)
		if satisfies(req, satisfied) {
			continue
		}

		if pinned, ok := req.Pinned(); ok {
			if _, err := wheel.ParseVersion(pinned); err != nil {
				return nil, fmt.Errorf("requirement %s: %w", req, err)
			}
			log.Printf("resolver: planning build for missing pinned dependency %s", req)
			if p.Add(plan.Job{
				Name:        req.Name,
				Version:     pinned,
				PythonTag:   pythonTag,
				PlatformTag: cfg.TargetPlatformTag,
				SourceSpec:  fmt.Sprintf("%s==%s", req.Name, pinned),
				Reason:      plan.ReasonMissingDependency,
			}) {
				if v, err := wheel.ParseVersion(pinned); err == nil {
					planned[normalized] = append(planned[normalized], v)
				}
			}
			continue
		}

		candidates := append([]wheel.Version{}, all[normalized]...)
		if opts.Index != nil && (cfg.UpgradeStrategy == config.UpgradeEager || cfg.FallbackLatest) {
			candidates = append(candidates, opts.Index.Versions(ctx, req.Name)...)
		}
		if best, ok := bestCandidate(req, candidates); ok {
			log.Printf("resolver: planning build for %s via best available version %s", req.Name, best)
			if p.Add(plan.Job{
				Name:        req.Name,
				Version:     best.String(),
				PythonTag:   pythonTag,
				PlatformTag: cfg.TargetPlatformTag,
				SourceSpec:  fmt.Sprintf("%s==%s", req.Name, best),
				Reason:      plan.ReasonMissingCompatible,
			}) {
				planned[normalized] = append(planned[normalized], best)
			}
			continue
		}

		p.MissingRequirements = append(p.MissingRequirements, req.String())
	}

	// Phase 3: one bounded expansion generation, never recursive per call.
	expandDependencies(p, wheels, pythonTag, cfg.TargetPlatformTag, opts)

	return p, nil
}

func collectRequirements(wheels []wheel.Info) []wheel.Requirement {
	var out []wheel.Requirement
	for _, info := range wheels {
		out = append(out, info.Requires...)
	}
	return out
}

func satisfies(req wheel.Requirement, versions []wheel.Version) bool {
	if len(versions) == 0 {
		return false
	}
	if len(req.Specifiers) == 0 {
		return true
	}
	for _, v := range versions {
		if req.Contains(v) {
			return true
		}
	}
	return false
}

func bestCandidate(req wheel.Requirement, versions []wheel.Version) (wheel.Version, bool) {
	var best wheel.Version
	found := false
	for _, v := range versions {
		if len(req.Specifiers) > 0 && !req.Contains(v) {
			continue
		}
		if !found || best.Less(v) {
			best = v
			found = true
		}
	}
	return best, found
}
