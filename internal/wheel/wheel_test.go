package wheel

import "testing"

func TestParseFilename(t *testing.T) {
	cases := []struct {
		filename string
		name     string
		version  string
		tags     int
		first    Tag
	}{
		{
			filename: "requests-2.31.0-py3-none-any.whl",
			name:     "requests", version: "2.31.0", tags: 1,
			first: Tag{Interpreter: "py3", ABI: "none", Platform: "any"},
		},
		{
			filename: "numpy-1.26.0-cp311-cp311-manylinux2014_x86_64.whl",
			name:     "numpy", version: "1.26.0", tags: 1,
			first: Tag{Interpreter: "cp311", ABI: "cp311", Platform: "manylinux2014_x86_64"},
		},
		{
			filename: "cryptography-41.0.0-cp37.cp311-abi3-manylinux2014_s390x.whl",
			name:     "cryptography", version: "41.0.0", tags: 2,
			first: Tag{Interpreter: "cp37", ABI: "abi3", Platform: "manylinux2014_s390x"},
		},
		{
			filename: "pkg-1.0-2-py3-none-any.whl",
			name:     "pkg", version: "1.0", tags: 1,
			first: Tag{Interpreter: "py3", ABI: "none", Platform: "any"},
		},
		{
			filename: "ruamel.yaml-0.17.0-py3-none-any.whl",
			name:     "ruamel.yaml", version: "0.17.0", tags: 1,
			first: Tag{Interpreter: "py3", ABI: "none", Platform: "any"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.filename, func(t *testing.T) {
			name, version, tags, err := ParseFilename(tc.filename)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.filename, err)
			}
			if name != tc.name || version != tc.version {
				t.Fatalf("got %s %s, want %s %s", name, version, tc.name, tc.version)
			}
			if len(tags) != tc.tags {
				t.Fatalf("tags = %v, want %d", tags, tc.tags)
			}
			if tags[0] != tc.first {
				t.Fatalf("first tag = %v, want %v", tags[0], tc.first)
			}
		})
	}
}

func TestParseFilenameErrors(t *testing.T) {
	for _, filename := range []string{
		"notawheel.tar.gz",
		"too-few-parts.whl",
		"pkg-not_a_version-py3-none-any.whl",
	} {
		if _, _, _, err := ParseFilename(filename); err == nil {
			t.Fatalf("expected error for %q", filename)
		}
	}
}

func TestSupports(t *testing.T) {
	cases := []struct {
		name string
		tag  Tag
		want bool
	}{
		{name: "pure python any", tag: Tag{Interpreter: "py3", ABI: "none", Platform: "any"}, want: true},
		{name: "exact match", tag: Tag{Interpreter: "cp311", ABI: "cp311", Platform: "manylinux2014_s390x"}, want: true},
		{name: "s390x family", tag: Tag{Interpreter: "cp311", ABI: "cp311", Platform: "manylinux_2_28_s390x"}, want: true},
		{name: "wrong arch", tag: Tag{Interpreter: "cp311", ABI: "cp311", Platform: "manylinux2014_x86_64"}, want: false},
		{name: "wrong interpreter", tag: Tag{Interpreter: "cp39", ABI: "cp39", Platform: "manylinux2014_s390x"}, want: false},
		{name: "py3 family versioned", tag: Tag{Interpreter: "py38", ABI: "none", Platform: "any"}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := Info{Tags: []Tag{tc.tag}}
			if got := info.Supports("cp311", "manylinux2014_s390x"); got != tc.want {
				t.Fatalf("Supports = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsPurePython(t *testing.T) {
	pure := Info{Tags: []Tag{{Interpreter: "py3", ABI: "none", Platform: "any"}}}
	if !pure.IsPurePython() {
		t.Fatalf("expected pure python")
	}
	native := Info{Tags: []Tag{{Interpreter: "cp311", ABI: "cp311", Platform: "manylinux2014_x86_64"}}}
	if native.IsPurePython() {
		t.Fatalf("expected native wheel")
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Django":            "django",
		"typing_extensions": "typing-extensions",
		"  spaced  ":        "spaced",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
