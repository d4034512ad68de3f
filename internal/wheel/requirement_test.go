package wheel

import "testing"

func TestParseRequirement(t *testing.T) {
	cases := []struct {
		raw    string
		name   string
		extras int
		specs  int
	}{
		{raw: "requests", name: "requests"},
		{raw: "requests>=2.0,<3", name: "requests", specs: 2},
		{raw: "Pillow (>=9.0)", name: "pillow", specs: 1},
		{raw: "uvicorn[standard]==0.23.0", name: "uvicorn", extras: 1, specs: 1},
		{raw: "colorama; sys_platform == \"win32\"", name: "colorama"},
		{raw: "typing_extensions>=4.1", name: "typing-extensions", specs: 1},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			req, err := ParseRequirement(tc.raw)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.raw, err)
			}
			if req.Name != tc.name {
				t.Fatalf("name = %q, want %q", req.Name, tc.name)
			}
			if len(req.Extras) != tc.extras {
				t.Fatalf("extras = %v, want %d", req.Extras, tc.extras)
			}
			if len(req.Specifiers) != tc.specs {
				t.Fatalf("specifiers = %v, want %d", req.Specifiers, tc.specs)
			}
		})
	}
}

func TestParseRequirementErrors(t *testing.T) {
	for _, raw := range []string{"", ">=1.0", "pkg @= 1.0"} {
		if _, err := ParseRequirement(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestRequirementPinned(t *testing.T) {
	cases := []struct {
		raw     string
		version string
		pinned  bool
	}{
		{raw: "pkg==1.2.3", version: "1.2.3", pinned: true},
		{raw: "pkg===1.2.3", version: "1.2.3", pinned: true},
		{raw: "pkg==1.2.*"},
		{raw: "pkg>=1.2"},
		{raw: "pkg==1.2,!=1.2.1"},
		{raw: "pkg"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			req, err := ParseRequirement(tc.raw)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.raw, err)
			}
			version, ok := req.Pinned()
			if ok != tc.pinned || version != tc.version {
				t.Fatalf("Pinned() = %q/%v, want %q/%v", version, ok, tc.version, tc.pinned)
			}
		})
	}
}

func TestRequirementContains(t *testing.T) {
	cases := []struct {
		req     string
		version string
		want    bool
	}{
		{req: "pkg>=1.0", version: "1.0", want: true},
		{req: "pkg>=1.0", version: "0.9", want: false},
		{req: "pkg>=1.0,<2.0", version: "1.5", want: true},
		{req: "pkg>=1.0,<2.0", version: "2.0", want: false},
		{req: "pkg==1.2.*", version: "1.2.9", want: true},
		{req: "pkg==1.2.*", version: "1.3.0", want: false},
		{req: "pkg!=1.2.*", version: "1.3.0", want: true},
		{req: "pkg~=1.2.3", version: "1.2.9", want: true},
		{req: "pkg~=1.2.3", version: "1.3.0", want: false},
		{req: "pkg~=1.2.3", version: "1.2.2", want: false},
		{req: "pkg===1.0", version: "1.0", want: true},
		{req: "pkg==1.0", version: "1.0.0", want: true},
		{req: "pkg>=1.0", version: "2.0rc1", want: true},
		{req: "pkg", version: "0.1", want: true},
	}
	for _, tc := range cases {
		t.Run(tc.req+"/"+tc.version, func(t *testing.T) {
			req, err := ParseRequirement(tc.req)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.req, err)
			}
			v, err := ParseVersion(tc.version)
			if err != nil {
				t.Fatalf("parse version %q: %v", tc.version, err)
			}
			if got := req.Contains(v); got != tc.want {
				t.Fatalf("Contains(%q) = %v, want %v", tc.version, got, tc.want)
			}
		})
	}
}
