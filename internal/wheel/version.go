package wheel

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed PEP 440 version. Release segments are compared
// numerically with zero padding; dev releases sort before pre-releases,
// pre-releases before the final release, post-releases after it.
type Version struct {
	Original string
	Epoch    int
	Release  []int
	PrePhase string // "a", "b" or "rc"; empty when not a pre-release
	PreNum   int
	Post     int // -1 when absent
	Dev      int // -1 when absent
	Local    string
}

var prePhases = map[string]string{
	"a": "a", "alpha": "a",
	"b": "b", "beta": "b",
	"rc": "rc", "c": "rc", "pre": "rc", "preview": "rc",
}

// ParseVersion parses a PEP 440 version string. Unparsable input is an
// error; callers treat that as fatal rather than guessing an ordering.
func ParseVersion(raw string) (Version, error) {
	v := Version{Original: raw, Post: -1, Dev: -1}
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "v")
	if s == "" {
		return v, fmt.Errorf("empty version string")
	}
	if i := strings.IndexByte(s, '+'); i >= 0 {
		v.Local = s[i+1:]
		s = s[:i]
	}
	if i := strings.IndexByte(s, '!'); i >= 0 {
		epoch, err := strconv.Atoi(s[:i])
		if err != nil {
			return v, fmt.Errorf("invalid epoch in %q", raw)
		}
		v.Epoch = epoch
		s = s[i+1:]
	}

	rest := s
	release := []int{}
	for len(rest) > 0 {
		j := 0
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		if j == 0 {
			break
		}
		n, err := strconv.Atoi(rest[:j])
		if err != nil {
			return v, fmt.Errorf("invalid release segment in %q", raw)
		}
		release = append(release, n)
		rest = rest[j:]
		if strings.HasPrefix(rest, ".") && len(rest) > 1 && rest[1] >= '0' && rest[1] <= '9' {
			rest = rest[1:]
			continue
		}
		break
	}
	if len(release) == 0 {
		return v, fmt.Errorf("invalid version string: %q", raw)
	}
	v.Release = release

	rest = strings.TrimPrefix(rest, ".")
	rest = strings.TrimPrefix(rest, "-")
	rest = strings.TrimPrefix(rest, "_")
	for rest != "" {
		label, num, tail, err := splitSuffix(rest)
		if err != nil {
			return v, fmt.Errorf("invalid version string %q: %w", raw, err)
		}
		switch {
		case prePhases[label] != "" && v.PrePhase == "" && v.Post < 0 && v.Dev < 0:
			v.PrePhase = prePhases[label]
			v.PreNum = num
		case (label == "post" || label == "rev" || label == "r") && v.Post < 0 && v.Dev < 0:
			v.Post = num
		case label == "dev" && v.Dev < 0:
			v.Dev = num
		default:
			return v, fmt.Errorf("invalid version string: %q", raw)
		}
		rest = tail
	}
	return v, nil
}

func splitSuffix(s string) (label string, num int, tail string, err error) {
	i := 0
	for i < len(s) && s[i] >= 'a' && s[i] <= 'z' {
		i++
	}
	label = s[:i]
	s = s[i:]
	j := 0
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if i == 0 && j == 0 {
		return "", 0, "", fmt.Errorf("unexpected %q", s)
	}
	if i == 0 {
		// A bare numeric suffix is an implicit post-release: 1.0-1 means
		// 1.0.post1.
		label = "post"
	}
	if j > 0 {
		num, err = strconv.Atoi(s[:j])
		if err != nil {
			return "", 0, "", err
		}
		s = s[j:]
	}
	s = strings.TrimPrefix(s, ".")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "_")
	return label, num, s, nil
}

// IsPreRelease reports whether the version carries a pre or dev segment.
func (v Version) IsPreRelease() bool {
	return v.PrePhase != "" || v.Dev >= 0
}

func (v Version) String() string { return v.Original }

// Compare returns -1, 0 or 1 ordering v against other per PEP 440.
func (v Version) Compare(other Version) int {
	if v.Epoch != other.Epoch {
		return cmpInt(v.Epoch, other.Epoch)
	}
	n := len(v.Release)
	if len(other.Release) > n {
		n = len(other.Release)
	}
	for i := 0; i < n; i++ {
		a, b := 0, 0
		if i < len(v.Release) {
			a = v.Release[i]
		}
		if i < len(other.Release) {
			b = other.Release[i]
		}
		if a != b {
			return cmpInt(a, b)
		}
	}
	if c := cmpPair(v.preKey(), other.preKey()); c != 0 {
		return c
	}
	if c := cmpPair(v.postKey(), other.postKey()); c != 0 {
		return c
	}
	if c := cmpPair(v.devKey(), other.devKey()); c != 0 {
		return c
	}
	return 0
}

// Less reports v < other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// Equal reports ordering equality (local segments excluded).
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

type orderKey struct{ rank, num int }

var phaseRank = map[string]int{"a": 0, "b": 1, "rc": 2}

// A dev-only version sorts before any pre-release of the same release,
// which sorts before the final release.
func (v Version) preKey() orderKey {
	if v.PrePhase != "" {
		return orderKey{rank: 1 + phaseRank[v.PrePhase], num: v.PreNum}
	}
	if v.Dev >= 0 && v.Post < 0 {
		return orderKey{rank: 0}
	}
	return orderKey{rank: 10}
}

func (v Version) postKey() orderKey {
	if v.Post < 0 {
		return orderKey{rank: 0}
	}
	return orderKey{rank: 1, num: v.Post}
}

func (v Version) devKey() orderKey {
	if v.Dev < 0 {
		return orderKey{rank: 1}
	}
	return orderKey{rank: 0, num: v.Dev}
}

func cmpPair(a, b orderKey) int {
	if a.rank != b.rank {
		return cmpInt(a.rank, b.rank)
	}
	return cmpInt(a.num, b.num)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// MaxVersion returns the greatest version in versions, or false when empty.
func MaxVersion(versions []Version) (Version, bool) {
	if len(versions) == 0 {
		return Version{}, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if best.Less(v) {
			best = v
		}
	}
	return best, true
}
