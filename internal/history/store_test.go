package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func record(t *testing.T, store *Store, evt Event) {
	t.Helper()
	if err := store.RecordEvent(context.Background(), evt); err != nil {
		t.Fatalf("record event: %v", err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	record(t, store, Event{RunID: "r1", Name: "alpha", Version: "1.0", Status: StatusBuilt})
	record(t, store, Event{RunID: "r1", Name: "beta", Version: "2.0", Status: StatusFailed, Detail: "boom"})
	record(t, store, Event{RunID: "r1", Name: "gamma", Version: "3.0", Status: StatusReused, Cached: true})

	events, err := store.Recent(ctx, 10, "")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Name != "gamma" {
		t.Fatalf("expected newest first, got %s", events[0].Name)
	}
	if !events[0].Cached {
		t.Fatalf("cached flag lost")
	}

	failed, err := store.Recent(ctx, 10, StatusFailed)
	if err != nil {
		t.Fatalf("recent filtered: %v", err)
	}
	if len(failed) != 1 || failed[0].Name != "beta" || failed[0].Detail != "boom" {
		t.Fatalf("filter = %+v", failed)
	}
}

func TestTopFailures(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		record(t, store, Event{Name: "flaky", Version: "1.0", Status: StatusFailed})
	}
	record(t, store, Event{Name: "gone", Version: "1.0", Status: StatusMissing})
	record(t, store, Event{Name: "fine", Version: "1.0", Status: StatusBuilt})
	// failed_attempt does not count toward terminal failures
	record(t, store, Event{Name: "fine", Version: "1.0", Status: StatusFailedAttempt})

	stats, err := store.TopFailures(ctx, 5)
	if err != nil {
		t.Fatalf("top failures: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %+v, want flaky and gone", stats)
	}
	if stats[0].Name != "flaky" || stats[0].Failures != 3 {
		t.Fatalf("stats[0] = %+v", stats[0])
	}
	if stats[1].Name != "gone" || stats[1].Failures != 1 {
		t.Fatalf("stats[1] = %+v", stats[1])
	}
}

func TestTopSlowest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	record(t, store, Event{Name: "slow", Version: "1.0", Status: StatusBuilt,
		Metadata: map[string]any{MetaDuration: 100.0}})
	record(t, store, Event{Name: "slow", Version: "1.0", Status: StatusBuilt,
		Metadata: map[string]any{MetaDuration: 200.0}})
	record(t, store, Event{Name: "quick", Version: "1.0", Status: StatusBuilt,
		Metadata: map[string]any{MetaDuration: 5.0}})
	record(t, store, Event{Name: "nodata", Version: "1.0", Status: StatusBuilt})

	stats, err := store.TopSlowest(ctx, 10)
	if err != nil {
		t.Fatalf("top slowest: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %+v, want slow and quick only", stats)
	}
	if stats[0].Name != "slow" || stats[0].AvgDuration != 150 {
		t.Fatalf("stats[0] = %+v", stats[0])
	}
	if stats[1].Name != "quick" {
		t.Fatalf("stats[1] = %+v", stats[1])
	}
}

func TestVariantSuccessRate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	record(t, store, Event{Name: "pkg", Version: "1.0", Status: StatusFailedAttempt,
		Metadata: map[string]any{MetaVariant: "default"}})
	record(t, store, Event{Name: "pkg", Version: "1.0", Status: StatusBuilt,
		Metadata: map[string]any{MetaVariant: "default"}})
	record(t, store, Event{Name: "pkg", Version: "1.0", Status: StatusBuilt,
		Metadata: map[string]any{MetaVariant: "no_isolation"}})
	record(t, store, Event{Name: "other", Version: "1.0", Status: StatusBuilt,
		Metadata: map[string]any{MetaVariant: "arch_tweak"}})

	rates, err := store.VariantSuccessRate(ctx, "pkg")
	if err != nil {
		t.Fatalf("variant rates: %v", err)
	}
	if rates["default"] != 0.5 {
		t.Fatalf("default rate = %v, want 0.5", rates["default"])
	}
	if rates["no_isolation"] != 1 {
		t.Fatalf("no_isolation rate = %v, want 1", rates["no_isolation"])
	}
	if _, ok := rates["arch_tweak"]; ok {
		t.Fatalf("rates leaked another package's variant")
	}
}

func TestPackageSummary(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	record(t, store, Event{Name: "pkg", Version: "1.0", Status: StatusFailedAttempt})
	record(t, store, Event{Name: "pkg", Version: "1.0", Status: StatusBuilt,
		Metadata: map[string]any{MetaDuration: 42.0}})

	summary, err := store.PackageSummary(ctx, "pkg")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.StatusCounts[StatusBuilt] != 1 || summary.StatusCounts[StatusFailedAttempt] != 1 {
		t.Fatalf("counts = %v", summary.StatusCounts)
	}
	if summary.Latest == nil || summary.Latest.Status != StatusBuilt {
		t.Fatalf("latest = %+v", summary.Latest)
	}
	if !summary.HasDuration || summary.AvgDuration != 42 {
		t.Fatalf("avg = %v has=%v", summary.AvgDuration, summary.HasDuration)
	}
}

func TestLastEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	last, err := store.LastEvent(ctx, "pkg", "1.0")
	if err != nil {
		t.Fatalf("last event: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil for unknown package, got %+v", last)
	}

	record(t, store, Event{Name: "pkg", Version: "1.0", Status: StatusFailed})
	record(t, store, Event{Name: "pkg", Version: "2.0", Status: StatusBuilt})

	last, err = store.LastEvent(ctx, "pkg", "1.0")
	if err != nil {
		t.Fatalf("last event: %v", err)
	}
	if last == nil || last.Status != StatusFailed {
		t.Fatalf("last = %+v, want version-scoped failed event", last)
	}

	last, err = store.LastEvent(ctx, "pkg", "")
	if err != nil {
		t.Fatalf("last event: %v", err)
	}
	if last == nil || last.Status != StatusBuilt {
		t.Fatalf("last = %+v, want newest across versions", last)
	}
}

func TestExportCSV(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	record(t, store, Event{RunID: "r1", Name: "pkg", Version: "1.0", Status: StatusBuilt,
		Timestamp: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)})

	var buf bytes.Buffer
	if err := store.ExportCSV(ctx, &buf, 0); err != nil {
		t.Fatalf("export: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header plus one event", len(rows))
	}
	if rows[0][0] != "run_id" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][2] != "pkg" || rows[1][6] != StatusBuilt {
		t.Fatalf("row = %v", rows[1])
	}
}

func TestEventDuration(t *testing.T) {
	evt := Event{Metadata: map[string]any{MetaDuration: 12.5}}
	if d, ok := evt.Duration(); !ok || d != 12.5 {
		t.Fatalf("duration = %v/%v", d, ok)
	}
	evt = Event{Metadata: map[string]any{MetaDuration: "not a number"}}
	if _, ok := evt.Duration(); ok {
		t.Fatalf("expected no duration for bad metadata")
	}
	if _, ok := (Event{}).Duration(); ok {
		t.Fatalf("expected no duration without metadata")
	}
}
