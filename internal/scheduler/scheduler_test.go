package scheduler

import (
	"context"
	"testing"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/history"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/plan"
)

type fakeSummaries map[string]float64

func (f fakeSummaries) PackageSummary(_ context.Context, name string) (history.PackageSummary, error) {
	if avg, ok := f[name]; ok {
		return history.PackageSummary{Name: name, AvgDuration: avg, HasDuration: true}, nil
	}
	return history.PackageSummary{Name: name}, nil
}

func names(jobs []plan.Job) []string {
	out := make([]string, len(jobs))
	for i, job := range jobs {
		out[i] = job.Name
	}
	return out
}

func TestScheduleShortestFirst(t *testing.T) {
	jobs := []plan.Job{
		{Name: "slow", Depth: 0},
		{Name: "fast", Depth: 0},
		{Name: "unknown", Depth: 0},
	}
	hist := fakeSummaries{"slow": 120, "fast": 5}
	got := names(Schedule(context.Background(), jobs, hist, ShortestFirst))
	want := []string{"fast", "slow", "unknown"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestScheduleDepthDominatesDuration(t *testing.T) {
	jobs := []plan.Job{
		{Name: "deep-fast", Depth: 1},
		{Name: "shallow-slow", Depth: 0},
	}
	hist := fakeSummaries{"deep-fast": 1, "shallow-slow": 900}
	got := names(Schedule(context.Background(), jobs, hist, ShortestFirst))
	if got[0] != "shallow-slow" {
		t.Fatalf("order = %v, want shallow job first", got)
	}
}

func TestScheduleResourceHintsBreakTies(t *testing.T) {
	jobs := []plan.Job{
		{Name: "heavy", ResourceCPU: 4, ResourceMem: 8192},
		{Name: "light", ResourceCPU: 1, ResourceMem: 512},
	}
	got := names(Schedule(context.Background(), jobs, fakeSummaries{}, ShortestFirst))
	if got[0] != "light" {
		t.Fatalf("order = %v, want light first", got)
	}
}

func TestScheduleStableForEqualKeys(t *testing.T) {
	jobs := []plan.Job{
		{Name: "first"},
		{Name: "second"},
		{Name: "third"},
	}
	got := names(Schedule(context.Background(), jobs, fakeSummaries{}, ShortestFirst))
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want submission order preserved", got)
		}
	}
}

func TestScheduleFIFO(t *testing.T) {
	jobs := []plan.Job{
		{Name: "b", Depth: 5},
		{Name: "a", Depth: 0},
	}
	got := names(Schedule(context.Background(), jobs, fakeSummaries{"a": 1, "b": 100}, FIFO))
	if got[0] != "b" || got[1] != "a" {
		t.Fatalf("fifo order = %v", got)
	}
}

func TestScheduleNilHistory(t *testing.T) {
	jobs := []plan.Job{{Name: "x", Depth: 1}, {Name: "y", Depth: 0}}
	got := names(Schedule(context.Background(), jobs, nil, ShortestFirst))
	if got[0] != "y" {
		t.Fatalf("order = %v, want depth ordering without history", got)
	}
}
