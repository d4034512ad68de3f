package wheel

import (
	"fmt"
	"strings"
)

// Specifier is a single version constraint such as ">=1.2" or "==1.0.*".
type Specifier struct {
	Operator string
	Version  string
}

// Requirement is a parsed dependency declaration: a normalized project name
// plus zero or more version specifiers. Extras and environment markers are
// parsed past but not evaluated.
type Requirement struct {
	Name       string
	Extras     []string
	Specifiers []Specifier
	raw        string
}

var specOperators = []string{"===", "==", "!=", "~=", "<=", ">=", "<", ">"}

// ParseRequirement parses a PEP 508 style requirement line.
func ParseRequirement(raw string) (Requirement, error) {
	req := Requirement{raw: strings.TrimSpace(raw)}
	s := req.raw
	if s == "" {
		return req, fmt.Errorf("empty requirement")
	}
	// Environment markers are out of scope for planning.
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	// Parenthesized specifier form: "name (>=1.0)".
	s = strings.ReplaceAll(s, "(", " ")
	s = strings.ReplaceAll(s, ")", " ")
	if i := strings.IndexByte(s, '['); i >= 0 {
		j := strings.IndexByte(s, ']')
		if j < i {
			return req, fmt.Errorf("invalid extras in requirement %q", raw)
		}
		for _, extra := range strings.Split(s[i+1:j], ",") {
			if e := strings.TrimSpace(extra); e != "" {
				req.Extras = append(req.Extras, e)
			}
		}
		s = s[:i] + " " + s[j+1:]
	}
	nameEnd := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '<' || r == '>' || r == '=' || r == '!' || r == '~' || r == ','
	})
	if nameEnd < 0 {
		nameEnd = len(s)
	}
	req.Name = NormalizeName(s[:nameEnd])
	if req.Name == "" {
		return req, fmt.Errorf("requirement %q has no name", raw)
	}
	rest := strings.TrimSpace(s[nameEnd:])
	if rest == "" {
		return req, nil
	}
	for _, clause := range strings.Split(rest, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		spec, err := parseSpecifier(clause)
		if err != nil {
			return req, fmt.Errorf("requirement %q: %w", raw, err)
		}
		req.Specifiers = append(req.Specifiers, spec)
	}
	return req, nil
}

func parseSpecifier(clause string) (Specifier, error) {
	for _, op := range specOperators {
		if strings.HasPrefix(clause, op) {
			ver := strings.TrimSpace(strings.TrimPrefix(clause, op))
			if ver == "" {
				return Specifier{}, fmt.Errorf("specifier %q has no version", clause)
			}
			return Specifier{Operator: op, Version: ver}, nil
		}
	}
	return Specifier{}, fmt.Errorf("unrecognized specifier %q", clause)
}

func (r Requirement) String() string {
	if r.raw != "" {
		return r.raw
	}
	parts := make([]string, 0, len(r.Specifiers))
	for _, spec := range r.Specifiers {
		parts = append(parts, spec.Operator+spec.Version)
	}
	return r.Name + strings.Join(parts, ",")
}

// Pinned returns the exact version when the requirement consists of a single
// == or === clause, and false otherwise.
func (r Requirement) Pinned() (string, bool) {
	if len(r.Specifiers) != 1 {
		return "", false
	}
	spec := r.Specifiers[0]
	if (spec.Operator == "==" || spec.Operator == "===") && !strings.HasSuffix(spec.Version, ".*") {
		return spec.Version, true
	}
	return "", false
}

// Contains reports whether version satisfies every specifier. Pre-releases
// are always permitted, matching the resolver's candidate selection.
func (r Requirement) Contains(version Version) bool {
	for _, spec := range r.Specifiers {
		if !specContains(spec, version) {
			return false
		}
	}
	return true
}

func specContains(spec Specifier, version Version) bool {
	if spec.Operator == "===" {
		return strings.TrimSpace(spec.Version) == version.Original
	}
	if strings.HasSuffix(spec.Version, ".*") && (spec.Operator == "==" || spec.Operator == "!=") {
		matched := prefixMatch(spec.Version, version)
		if spec.Operator == "==" {
			return matched
		}
		return !matched
	}
	other, err := ParseVersion(spec.Version)
	if err != nil {
		return false
	}
	switch spec.Operator {
	case "==":
		return version.Equal(other)
	case "!=":
		return !version.Equal(other)
	case "<":
		return version.Less(other)
	case ">":
		return other.Less(version)
	case "<=":
		return version.Compare(other) <= 0
	case ">=":
		return version.Compare(other) >= 0
	case "~=":
		if other.Less(version) || version.Equal(other) {
			return prefixMatch(compatiblePrefix(other), version)
		}
		return false
	}
	return false
}

// compatiblePrefix derives the "==X.Y.*" style prefix implied by "~=X.Y.Z".
func compatiblePrefix(v Version) string {
	if len(v.Release) < 2 {
		return v.Original + ".*"
	}
	parts := make([]string, len(v.Release)-1)
	for i := range parts {
		parts[i] = fmt.Sprintf("%d", v.Release[i])
	}
	return strings.Join(parts, ".") + ".*"
}

func prefixMatch(pattern string, version Version) bool {
	prefix := strings.TrimSuffix(pattern, ".*")
	want, err := ParseVersion(prefix)
	if err != nil {
		return false
	}
	if want.Epoch != version.Epoch {
		return false
	}
	release := version.Release
	if len(release) < len(want.Release) {
		padded := make([]int, len(want.Release))
		copy(padded, release)
		release = padded
	}
	for i, seg := range want.Release {
		if release[i] != seg {
			return false
		}
	}
	return true
}
