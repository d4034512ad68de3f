// Package hints matches build failure output against a catalog of known
// failure signatures and produces remediation suggestions.
package hints

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Hint is one catalog entry: a regex over build output plus suggested
// system packages and optional recipe steps, keyed by distro.
type Hint struct {
	Pattern  string              `yaml:"pattern"`
	Packages map[string][]string `yaml:"packages"`
	Recipes  map[string][]string `yaml:"recipes"`

	re *regexp.Regexp
}

// Catalog is an ordered list of hints; matching is first-match-wins.
type Catalog struct {
	Hints []Hint
}

type catalogFile struct {
	Errors []Hint `yaml:"errors"`
}

// Load reads a YAML hint catalog. A missing file yields an empty catalog;
// an entry with an invalid pattern is an error.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hint catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse hint catalog %s: %w", path, err)
	}
	cat := &Catalog{Hints: file.Errors}
	for i := range cat.Hints {
		re, err := regexp.Compile(cat.Hints[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("hint catalog %s: pattern %q: %w", path, cat.Hints[i].Pattern, err)
		}
		cat.Hints[i].re = re
	}
	return cat, nil
}

// Match returns the first hint whose pattern matches output.
func (c *Catalog) Match(output string) (Hint, bool) {
	if c == nil {
		return Hint{}, false
	}
	for _, hint := range c.Hints {
		if hint.re != nil && hint.re.MatchString(output) {
			return hint, true
		}
	}
	return Hint{}, false
}

// Suggestion is the structured remediation derived from a failure.
type Suggestion struct {
	Packages map[string][]string
	Recipes  map[string][]string
	Note     string
}

// String renders the suggestion the way it is recorded in event details.
func (s Suggestion) String() string {
	if len(s.Packages) == 0 && len(s.Recipes) == 0 {
		return s.Note
	}
	var parts []string
	for _, distro := range sortedKeys(s.Packages) {
		parts = append(parts, distro+": "+strings.Join(s.Packages[distro], " "))
	}
	out := "Suggested packages: " + strings.Join(parts, " | ")
	var steps []string
	for _, distro := range sortedKeys(s.Recipes) {
		steps = append(steps, s.Recipes[distro]...)
	}
	if len(steps) > 0 {
		out += " | Recipes: " + strings.Join(steps, "; ")
	}
	return out
}

// RecipeSteps derives runnable install commands from the suggestion,
// one per distro package manager.
func (s Suggestion) RecipeSteps() []string {
	var steps []string
	if pkgs := s.Packages["dnf"]; len(pkgs) > 0 {
		steps = append(steps, "dnf install -y "+strings.Join(pkgs, " "))
	}
	if pkgs := s.Packages["apt"]; len(pkgs) > 0 {
		steps = append(steps, "apt-get update && apt-get install -y "+strings.Join(pkgs, " "))
	}
	for _, distro := range sortedKeys(s.Recipes) {
		steps = append(steps, s.Recipes[distro]...)
	}
	return dedupe(steps)
}

var (
	missingLibRe    = regexp.MustCompile(`cannot find -l([A-Za-z0-9_\-]+)`)
	missingHeaderRe = regexp.MustCompile(`fatal error: ([A-Za-z0-9_/.\-]+\.h): No such file or directory`)
	missingFileRe   = regexp.MustCompile(`No such file or directory: '([^']+)'`)
	missingModuleRe = regexp.MustCompile(`ModuleNotFoundError: No module named ['"]([^'"]+)['"]`)
)

// Diagnose matches output against the catalog first, then falls back to
// fixed heuristics for common native build failures.
func (c *Catalog) Diagnose(output string) (Suggestion, bool) {
	if hint, ok := c.Match(output); ok {
		return Suggestion{Packages: hint.Packages, Recipes: hint.Recipes}, true
	}
	if m := missingLibRe.FindStringSubmatch(output); m != nil {
		return Suggestion{Note: fmt.Sprintf("Missing system library lib%s", m[1])}, true
	}
	if m := missingHeaderRe.FindStringSubmatch(output); m != nil {
		return Suggestion{Note: fmt.Sprintf("Missing header %s", m[1])}, true
	}
	if m := missingFileRe.FindStringSubmatch(output); m != nil {
		return Suggestion{Note: fmt.Sprintf("Missing file %s (check build deps)", m[1])}, true
	}
	if m := missingModuleRe.FindStringSubmatch(output); m != nil {
		return Suggestion{Note: fmt.Sprintf("Missing Python module %s (build dependency?)", m[1])}, true
	}
	return Suggestion{}, false
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		t := strings.TrimSpace(s)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
