// Package plan defines the resolver's output: what can be reused and what
// has to be rebuilt.
package plan

import (
	"strings"
)

// Job reasons recorded on build jobs and surfaced in manifests and events.
const (
	ReasonIncompatibleWheel   = "incompatible wheel"
	ReasonMissingDependency   = "missing dependency"
	ReasonMissingCompatible   = "missing compatible wheel for requirement"
	ReasonDependencyExpansion = "dependency expansion"
	ReasonRequeuedParent      = "requeued after dependency build"
	ReasonRetryRequest        = "retry request"
)

// VersionLatest is the sentinel version for jobs resolved at build time.
const VersionLatest = "latest"

// Job is a single package build request.
type Job struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	PythonTag   string   `json:"python_tag"`
	PlatformTag string   `json:"platform_tag"`
	SourceSpec  string   `json:"source_spec"`
	Reason      string   `json:"reason"`
	Depth       int      `json:"depth"`
	Parents     []string `json:"parents,omitempty"`
	Children    []string `json:"children,omitempty"`
	ResourceCPU float64  `json:"resource_cpu,omitempty"`
	ResourceMem float64  `json:"resource_mem,omitempty"`
}

// Key identifies a job by normalized name and version.
func (j Job) Key() string {
	return strings.ToLower(j.Name) + "==" + j.Version
}

// ReusableWheel is an input wheel that already satisfies the target.
type ReusableWheel struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Path    string `json:"path"`
}

// Plan is the resolver output consumed by the scheduler and builder.
type Plan struct {
	Reusable             []ReusableWheel
	ToBuild              []Job
	MissingRequirements  []string
	DependencyExpansions []Job
}

// Contains reports whether a (name, version) job is already planned.
func (p *Plan) Contains(name, version string) bool {
	target := strings.ToLower(name)
	for _, job := range p.ToBuild {
		if strings.ToLower(job.Name) == target && job.Version == version {
			return true
		}
	}
	return false
}

// Add appends a job unless an identical (name, version) pair is already
// planned. Dedup happens here so no caller can corrupt the invariant.
func (p *Plan) Add(job Job) bool {
	if p.Contains(job.Name, job.Version) {
		return false
	}
	p.ToBuild = append(p.ToBuild, job)
	return true
}

// Node is a flattened plan entry for snapshot consumers.
type Node struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	PythonTag   string `json:"python_tag"`
	PlatformTag string `json:"platform_tag"`
	Action      string `json:"action"` // reuse or build
}

// Snapshot is the structure stored in plan.json for external consumers.
type Snapshot struct {
	RunID string `json:"run_id"`
	Plan  []Node `json:"plan"`
}

// NewSnapshot flattens a plan into reuse/build nodes.
func NewSnapshot(p *Plan, runID, pythonTag, platformTag string) Snapshot {
	snap := Snapshot{RunID: runID}
	for _, reuse := range p.Reusable {
		snap.Plan = append(snap.Plan, Node{
			Name:        reuse.Name,
			Version:     reuse.Version,
			PythonTag:   pythonTag,
			PlatformTag: platformTag,
			Action:      "reuse",
		})
	}
	for _, job := range p.ToBuild {
		node := Node{
			Name:        job.Name,
			Version:     job.Version,
			PythonTag:   job.PythonTag,
			PlatformTag: job.PlatformTag,
			Action:      "build",
		}
		if node.PythonTag == "" {
			node.PythonTag = pythonTag
		}
		if node.PlatformTag == "" {
			node.PlatformTag = platformTag
		}
		snap.Plan = append(snap.Plan, node)
	}
	return snap
}
