package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestHasFailures(t *testing.T) {
	m := Manifest{Entries: []Entry{
		{Name: "alpha", Status: StatusReused},
		{Name: "beta", Status: StatusBuilt},
	}}
	if m.HasFailures() {
		t.Fatalf("clean manifest reported failures")
	}
	m.Entries = append(m.Entries, Entry{Name: "gamma", Status: StatusMissing})
	if !m.HasFailures() {
		t.Fatalf("missing entry not treated as failure")
	}

	failed := Manifest{Entries: []Entry{{Name: "delta", Status: StatusFailed}}}
	if !failed.HasFailures() {
		t.Fatalf("failed entry not treated as failure")
	}
	skipped := Manifest{Entries: []Entry{{Name: "eps", Status: StatusSkippedKnown}}}
	if skipped.HasFailures() {
		t.Fatalf("skip entry should not fail the run")
	}
}

func TestWrite(t *testing.T) {
	m := Manifest{
		PythonTag:   "cp311",
		PlatformTag: "manylinux2014_s390x",
		Entries: []Entry{{
			Name:     "beta",
			Version:  "2.0",
			Status:   StatusBuilt,
			Path:     "/out/beta-2.0-cp311-cp311-manylinux2014_s390x.whl",
			Metadata: map[string]any{"attempt": 1},
		}},
	}
	path := filepath.Join(t.TempDir(), "out", "manifest.json")
	if err := Write(m, path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var loaded Manifest
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if loaded.PythonTag != "cp311" || len(loaded.Entries) != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.Entries[0].Status != StatusBuilt {
		t.Fatalf("entry = %+v", loaded.Entries[0])
	}
}
