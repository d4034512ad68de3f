package plan

import (
	"path/filepath"
	"testing"
)

func TestAddDeduplicates(t *testing.T) {
	p := &Plan{}
	job := Job{Name: "NumPy", Version: "1.26.4"}
	if !p.Add(job) {
		t.Fatalf("first Add rejected")
	}
	if p.Add(Job{Name: "numpy", Version: "1.26.4"}) {
		t.Fatalf("duplicate accepted despite case difference")
	}
	if !p.Add(Job{Name: "numpy", Version: "1.26.5"}) {
		t.Fatalf("different version rejected")
	}
	if len(p.ToBuild) != 2 {
		t.Fatalf("ToBuild = %d jobs", len(p.ToBuild))
	}
	if !p.Contains("NUMPY", "1.26.4") {
		t.Fatalf("Contains missed planned job")
	}
}

func TestJobKey(t *testing.T) {
	j := Job{Name: "Pillow", Version: "10.0"}
	if j.Key() != "pillow==10.0" {
		t.Fatalf("Key = %q", j.Key())
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	p := &Plan{
		Reusable: []ReusableWheel{{Name: "alpha", Version: "1.0", Path: "/in/alpha.whl"}},
	}
	p.Add(Job{Name: "beta", Version: "2.0", PythonTag: "cp311", PlatformTag: "manylinux2014_s390x"})
	p.Add(Job{Name: "gamma", Version: VersionLatest})

	snap := NewSnapshot(p, "run-1", "cp311", "manylinux2014_s390x")
	if len(snap.Plan) != 3 {
		t.Fatalf("plan nodes = %d", len(snap.Plan))
	}
	if snap.Plan[0].Action != "reuse" || snap.Plan[1].Action != "build" {
		t.Fatalf("actions = %+v", snap.Plan)
	}
	if snap.Plan[2].PythonTag != "cp311" {
		t.Fatalf("tag defaulting failed: %+v", snap.Plan[2])
	}

	path := filepath.Join(t.TempDir(), "plan.json")
	if err := WriteSnapshot(snap, path); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded.RunID != "run-1" || len(loaded.Plan) != 3 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.Plan[2].Name != "gamma" || loaded.Plan[2].Version != VersionLatest {
		t.Fatalf("loaded node = %+v", loaded.Plan[2])
	}
}
