package wheel

import (
	"fmt"
	"strings"
)

// Tag is a PEP 425 compatibility tag triple.
type Tag struct {
	Interpreter string
	ABI         string
	Platform    string
}

func (t Tag) String() string {
	return t.Interpreter + "-" + t.ABI + "-" + t.Platform
}

// Info describes a scanned wheel file.
type Info struct {
	Name     string
	Version  string
	Filename string
	Path     string
	Tags     []Tag
	Requires []Requirement
	Summary  string
}

// IsPurePython reports whether any tag targets the "any" platform.
func (w Info) IsPurePython() bool {
	for _, tag := range w.Tags {
		if tag.Platform == "any" {
			return true
		}
	}
	return false
}

// Supports reports whether the wheel can run on the target python/platform
// combination. Interpreters match exactly or through the generic py3 family,
// platforms match "any", exactly, or through the shared s390x suffix.
func (w Info) Supports(pythonTag, platformTag string) bool {
	for _, tag := range w.Tags {
		pythonOK := tag.Interpreter == pythonTag || tag.Interpreter == "py3" ||
			strings.HasPrefix(tag.Interpreter, "py3")
		platformOK := tag.Platform == "any" || tag.Platform == platformTag ||
			(strings.HasSuffix(tag.Platform, "_s390x") && strings.HasSuffix(platformTag, "_s390x"))
		if pythonOK && platformOK {
			return true
		}
	}
	return false
}

// NormalizeName lowercases a project name and folds underscores to dashes,
// matching the normalization used by package indexes.
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
}

// ParseFilename splits a wheel filename into name, version and expanded tags.
// Compressed tag sets (cp310.cp311-abi3-...) are expanded into one Tag per
// combination.
func ParseFilename(filename string) (name, version string, tags []Tag, err error) {
	base, ok := strings.CutSuffix(filename, ".whl")
	if !ok {
		return "", "", nil, fmt.Errorf("not a wheel filename: %s", filename)
	}
	parts := strings.Split(base, "-")
	if len(parts) < 5 {
		return "", "", nil, fmt.Errorf("invalid wheel filename: %s", filename)
	}
	platform := parts[len(parts)-1]
	abi := parts[len(parts)-2]
	python := parts[len(parts)-3]
	rest := parts[:len(parts)-3]
	// An optional build tag starts with a digit and sits between version and tags.
	if len(rest) >= 3 && rest[len(rest)-1] != "" && rest[len(rest)-1][0] >= '0' && rest[len(rest)-1][0] <= '9' {
		if _, verr := ParseVersion(rest[len(rest)-2]); verr == nil {
			rest = rest[:len(rest)-1]
		}
	}
	if len(rest) < 2 {
		return "", "", nil, fmt.Errorf("invalid wheel filename: %s", filename)
	}
	version = rest[len(rest)-1]
	name = strings.Join(rest[:len(rest)-1], "-")
	if name == "" || version == "" {
		return "", "", nil, fmt.Errorf("invalid wheel filename: %s", filename)
	}
	if _, verr := ParseVersion(version); verr != nil {
		return "", "", nil, fmt.Errorf("invalid version in wheel filename %s: %w", filename, verr)
	}
	for _, py := range strings.Split(python, ".") {
		for _, ab := range strings.Split(abi, ".") {
			for _, plat := range strings.Split(platform, ".") {
				tags = append(tags, Tag{Interpreter: py, ABI: ab, Platform: plat})
			}
		}
	}
	return name, version, tags, nil
}
