// Package config holds the configuration value consumed by the resolver and
// builder. The CLI assembles it from flags, an optional JSON file and
// defaults, in that order of precedence. Everything is fixed for the run
// except the override map, which auto-applied suggestions and retry requests
// amend through AmendOverride.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// UpgradeStrategy controls how dependency versions are selected.
type UpgradeStrategy string

const (
	UpgradePinned UpgradeStrategy = "pinned"
	UpgradeEager  UpgradeStrategy = "eager"
)

// IndexSettings describe the package indexes used for downloads and
// version discovery.
type IndexSettings struct {
	IndexURL       string   `json:"index_url,omitempty"`
	ExtraIndexURLs []string `json:"extra_index_urls,omitempty"`
	TrustedHosts   []string `json:"trusted_hosts,omitempty"`
}

// PackageOverride carries per-package build prerequisites.
type PackageOverride struct {
	SystemPackages []string          `json:"system_packages,omitempty"`
	SystemRecipe   []string          `json:"system_recipe,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Notes          string            `json:"notes,omitempty"`
}

// Config is the resolved refinery configuration. Overrides is amended at
// runtime; concurrent access goes through OverrideCopy and AmendOverride.
type Config struct {
	TargetPython         string
	TargetPlatformTag    string
	UpgradeStrategy      UpgradeStrategy
	Index                IndexSettings
	Overrides            map[string]*PackageOverride
	AllowSystemRecipes   bool
	DryRunRecipes        bool
	MaxAttempts          int
	AttemptTimeout       time.Duration
	AttemptBackoffBase   time.Duration
	AttemptBackoffMax    time.Duration
	ContainerImage       string
	ContainerEngine      string
	ContainerPreset      string
	ContainerCPU         string
	ContainerMemory      string
	AutoApplySuggestions bool
	FallbackLatest       bool

	overrideMu sync.Mutex
}

// Options are the caller-supplied values merged over file values and
// defaults by Build. Zero values mean "not set".
type Options struct {
	TargetPython         string
	TargetPlatformTag    string
	UpgradeStrategy      string
	IndexURL             string
	ExtraIndexURLs       []string
	TrustedHosts         []string
	ConfigFile           string
	AllowSystemRecipes   *bool
	DryRunRecipes        *bool
	MaxAttempts          int
	AttemptTimeout       time.Duration
	AttemptBackoffBase   time.Duration
	AttemptBackoffMax    time.Duration
	ContainerImage       string
	ContainerEngine      string
	ContainerPreset      string
	ContainerCPU         string
	ContainerMemory      string
	AutoApplySuggestions *bool
	FallbackLatest       *bool
}

type fileConfig struct {
	TargetPython       string                      `json:"target_python"`
	TargetPlatformTag  string                      `json:"target_platform_tag"`
	UpgradeStrategy    string                      `json:"upgrade_strategy"`
	Index              IndexSettings               `json:"index"`
	Overrides          map[string]*PackageOverride `json:"overrides"`
	AllowSystemRecipes *bool                       `json:"allow_system_recipes"`
	DryRunRecipes      *bool                       `json:"dry_run_recipes"`
	MaxAttempts        int                         `json:"max_attempts"`
	AttemptTimeoutSec  int                         `json:"attempt_timeout"`
	BackoffBaseSec     int                         `json:"attempt_backoff_base"`
	BackoffMaxSec      int                         `json:"attempt_backoff_max"`
	ContainerImage     string                      `json:"container_image"`
	ContainerEngine    string                      `json:"container_engine"`
	ContainerPreset    string                      `json:"container_preset"`
	ContainerCPU       string                      `json:"container_cpu"`
	ContainerMemory    string                      `json:"container_memory"`
	AutoApply          *bool                       `json:"auto_apply_suggestions"`
	FallbackLatest     *bool                       `json:"fallback_latest"`
}

// Build merges opts over any config file over defaults into one Config.
func Build(opts Options) (*Config, error) {
	var fc fileConfig
	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var wrapper struct {
			Refinery fileConfig `json:"refinery"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", opts.ConfigFile, err)
		}
		fc = wrapper.Refinery
	}

	cfg := &Config{
		TargetPython:         firstNonEmpty(opts.TargetPython, fc.TargetPython),
		TargetPlatformTag:    firstNonEmpty(opts.TargetPlatformTag, fc.TargetPlatformTag, "manylinux2014_s390x"),
		UpgradeStrategy:      UpgradeStrategy(firstNonEmpty(opts.UpgradeStrategy, fc.UpgradeStrategy, string(UpgradePinned))),
		Overrides:            fc.Overrides,
		AllowSystemRecipes:   resolveBool(opts.AllowSystemRecipes, fc.AllowSystemRecipes, true),
		DryRunRecipes:        resolveBool(opts.DryRunRecipes, fc.DryRunRecipes, false),
		MaxAttempts:          firstPositive(opts.MaxAttempts, fc.MaxAttempts, 3),
		AttemptTimeout:       firstDuration(opts.AttemptTimeout, fc.AttemptTimeoutSec, 900*time.Second),
		AttemptBackoffBase:   firstDuration(opts.AttemptBackoffBase, fc.BackoffBaseSec, 5*time.Second),
		AttemptBackoffMax:    firstDuration(opts.AttemptBackoffMax, fc.BackoffMaxSec, 60*time.Second),
		ContainerImage:       firstNonEmpty(opts.ContainerImage, fc.ContainerImage),
		ContainerEngine:      firstNonEmpty(opts.ContainerEngine, fc.ContainerEngine, "docker"),
		ContainerPreset:      firstNonEmpty(opts.ContainerPreset, fc.ContainerPreset),
		ContainerCPU:         firstNonEmpty(opts.ContainerCPU, fc.ContainerCPU),
		ContainerMemory:      firstNonEmpty(opts.ContainerMemory, fc.ContainerMemory),
		AutoApplySuggestions: resolveBool(opts.AutoApplySuggestions, fc.AutoApply, false),
		FallbackLatest:       resolveBool(opts.FallbackLatest, fc.FallbackLatest, false),
	}
	cfg.Index = IndexSettings{
		IndexURL:       firstNonEmpty(opts.IndexURL, fc.Index.IndexURL),
		ExtraIndexURLs: firstSlice(opts.ExtraIndexURLs, fc.Index.ExtraIndexURLs),
		TrustedHosts:   firstSlice(opts.TrustedHosts, fc.Index.TrustedHosts),
	}
	if cfg.Overrides == nil {
		cfg.Overrides = map[string]*PackageOverride{}
	}
	if cfg.TargetPython == "" {
		return nil, fmt.Errorf("a target Python version is required (e.g. 3.11)")
	}
	if _, err := PythonTagFromVersion(cfg.TargetPython); err != nil {
		return nil, err
	}
	switch cfg.UpgradeStrategy {
	case UpgradePinned, UpgradeEager:
	default:
		return nil, fmt.Errorf("unknown upgrade strategy %q", cfg.UpgradeStrategy)
	}
	return cfg, nil
}

// PythonTag returns the PEP 425 interpreter tag for the configured version.
func (c *Config) PythonTag() string {
	tag, _ := PythonTagFromVersion(c.TargetPython)
	return tag
}

// Override resolves the override for a package, exact name first, then the
// lowercased form. Callers running concurrently with AmendOverride must use
// OverrideCopy instead.
func (c *Config) Override(name string) *PackageOverride {
	if o, ok := c.Overrides[name]; ok {
		return o
	}
	return c.Overrides[strings.ToLower(name)]
}

// OverrideCopy returns a private copy of the override for name, or nil when
// no override exists. Safe to call concurrently with AmendOverride.
func (c *Config) OverrideCopy(name string) *PackageOverride {
	c.overrideMu.Lock()
	defer c.overrideMu.Unlock()
	return c.Override(name).Clone()
}

// AmendOverride applies fn to the override for name under the override lock,
// creating the override when absent.
func (c *Config) AmendOverride(name string, fn func(*PackageOverride)) {
	c.overrideMu.Lock()
	defer c.overrideMu.Unlock()
	override := c.Override(name)
	if override == nil {
		override = &PackageOverride{}
		c.Overrides[name] = override
	}
	fn(override)
}

// Clone returns a deep copy of the override. A nil receiver clones to nil.
func (o *PackageOverride) Clone() *PackageOverride {
	if o == nil {
		return nil
	}
	clone := &PackageOverride{
		SystemPackages: append([]string(nil), o.SystemPackages...),
		SystemRecipe:   append([]string(nil), o.SystemRecipe...),
		Notes:          o.Notes,
	}
	if len(o.Env) > 0 {
		clone.Env = make(map[string]string, len(o.Env))
		for k, v := range o.Env {
			clone.Env[k] = v
		}
	}
	return clone
}

var pythonVersionRe = regexp.MustCompile(`^(\d+)\.(\d+)$`)

// PythonTagFromVersion converts "3.11" into "cp311".
func PythonTagFromVersion(version string) (string, error) {
	m := pythonVersionRe.FindStringSubmatch(version)
	if m == nil {
		return "", fmt.Errorf("invalid Python version %q; use a form like 3.11", version)
	}
	return "cp" + m[1] + m[2], nil
}

// ImageForPreset maps a preset name to its container image.
func ImageForPreset(preset string) string {
	switch preset {
	case "rocky":
		return "docker.io/rockylinux:9"
	case "fedora":
		return "docker.io/fedora:40"
	case "ubuntu":
		return "docker.io/ubuntu:22.04"
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstSlice(values ...[]string) []string {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstDuration(explicit time.Duration, fileSec int, def time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	if fileSec > 0 {
		return time.Duration(fileSec) * time.Second
	}
	return def
}

func resolveBool(cli *bool, file *bool, def bool) bool {
	if cli != nil {
		return *cli
	}
	if file != nil {
		return *file
	}
	return def
}
