package scanner

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func writeWheel(t *testing.T, dir, filename, metadata string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", filename, err)
	}
	zw := zip.NewWriter(f)
	if metadata != "" {
		w, err := zw.Create("pkg-1.0.dist-info/METADATA")
		if err != nil {
			t.Fatalf("create metadata entry: %v", err)
		}
		if _, err := w.Write([]byte(metadata)); err != nil {
			t.Fatalf("write metadata: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

const sampleMetadata = `Metadata-Version: 2.1
Name: pkg
Version: 1.0
Summary: A test package
Requires-Dist: requests>=2.0
Requires-Dist: not a requirement !!!
Requires-Dist: colorama; sys_platform == "win32"

Requires-Dist: body-text-ignored>=1.0
`

func TestReadWheel(t *testing.T) {
	dir := t.TempDir()
	path := writeWheel(t, dir, "pkg-1.0-py3-none-any.whl", sampleMetadata)

	info, err := ReadWheel(path)
	if err != nil {
		t.Fatalf("ReadWheel: %v", err)
	}
	if info.Name != "pkg" || info.Version != "1.0" {
		t.Fatalf("got %s %s, want pkg 1.0", info.Name, info.Version)
	}
	if info.Summary != "A test package" {
		t.Fatalf("summary = %q", info.Summary)
	}
	// The malformed line is skipped and the body is never parsed.
	if len(info.Requires) != 2 {
		t.Fatalf("requires = %v, want 2 entries", info.Requires)
	}
	if info.Requires[0].Name != "requests" || info.Requires[1].Name != "colorama" {
		t.Fatalf("unexpected requirements: %v", info.Requires)
	}
}

func TestReadWheelMissingMetadata(t *testing.T) {
	dir := t.TempDir()
	path := writeWheel(t, dir, "pkg-1.0-py3-none-any.whl", "")

	info, err := ReadWheel(path)
	if err != nil {
		t.Fatalf("ReadWheel: %v", err)
	}
	if len(info.Requires) != 0 || len(info.Tags) != 1 {
		t.Fatalf("expected tag-only info, got %+v", info)
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeWheel(t, dir, "b-2.0-py3-none-any.whl", "")
	writeWheel(t, dir, "a-1.0-py3-none-any.whl", "")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	wheels, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(wheels) != 2 {
		t.Fatalf("got %d wheels, want 2", len(wheels))
	}
	if wheels[0].Name != "a" || wheels[1].Name != "b" {
		t.Fatalf("expected sorted order, got %s then %s", wheels[0].Name, wheels[1].Name)
	}
}

func TestScanBadFilenameFatal(t *testing.T) {
	dir := t.TempDir()
	writeWheel(t, dir, "a-1.0-py3-none-any.whl", "")
	if err := os.WriteFile(filepath.Join(dir, "broken.whl"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write broken wheel: %v", err)
	}
	if _, err := Scan(dir); err == nil {
		t.Fatalf("expected error for unparsable wheel filename")
	}
}
