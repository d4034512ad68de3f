package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/history"
)

type historyFlags struct {
	db          string
	recent      int
	status      string
	topFailures int
	topSlowest  int
	pkg         string
	exportCSV   string
	exportLimit int
	jsonOut     bool
}

func newHistoryCommand() *cobra.Command {
	var f historyFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect build history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.db, "db", "history.db", "History database path or DSN")
	flags.IntVar(&f.recent, "recent", 20, "Number of recent events to show")
	flags.StringVar(&f.status, "status", "", "Filter recent events by status")
	flags.IntVar(&f.topFailures, "top-failures", 5, "Show top N failing packages")
	flags.IntVar(&f.topSlowest, "top-slowest", 0, "Show top N slowest packages")
	flags.StringVar(&f.pkg, "package", "", "Show summary for a specific package")
	flags.StringVar(&f.exportCSV, "export-csv", "", "Export events to CSV at the given path")
	flags.IntVar(&f.exportLimit, "export-limit", 0, "Limit rows when exporting CSV (0 = all)")
	flags.BoolVar(&f.jsonOut, "json", false, "Output JSON instead of text")
	return cmd
}

func runHistory(cmd *cobra.Command, f historyFlags) error {
	ctx := cmd.Context()
	store, err := history.Open(f.db)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	recent, err := store.Recent(ctx, f.recent, f.status)
	if err != nil {
		return err
	}
	var failures []history.FailureStat
	if f.topFailures > 0 {
		if failures, err = store.TopFailures(ctx, f.topFailures); err != nil {
			return err
		}
	}
	var slowest []history.DurationStat
	if f.topSlowest > 0 {
		if slowest, err = store.TopSlowest(ctx, f.topSlowest); err != nil {
			return err
		}
	}
	var summary *history.PackageSummary
	if f.pkg != "" {
		s, err := store.PackageSummary(ctx, f.pkg)
		if err != nil {
			return err
		}
		summary = &s
	}

	if f.exportCSV != "" {
		out, err := os.Create(f.exportCSV)
		if err != nil {
			return err
		}
		if err := store.ExportCSV(ctx, out, f.exportLimit); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if f.jsonOut {
		payload := map[string]any{
			"recent":       recent,
			"top_failures": failures,
			"top_slowest":  slowest,
			"summary":      summary,
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	fmt.Fprintf(w, "History DB: %s\n", f.db)
	filter := ""
	if f.status != "" {
		filter = " filtered by " + f.status
	}
	fmt.Fprintf(w, "Recent events (limit %d%s):\n", f.recent, filter)
	for _, event := range recent {
		mode := "built"
		if event.Cached {
			mode = "cached"
		}
		fmt.Fprintf(w, "- [%s] %-7s %s %s %s/%s (%s)\n",
			event.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			strings.ToUpper(event.Status), event.Name, event.Version,
			event.PythonTag, event.PlatformTag, mode)
		if event.Detail != "" {
			fmt.Fprintf(w, "    detail: %s\n", event.Detail)
		}
		if event.WheelPath != "" {
			fmt.Fprintf(w, "    wheel: %s\n", event.WheelPath)
		}
	}
	if len(failures) > 0 {
		fmt.Fprintf(w, "\nTop %d failing packages:\n", len(failures))
		for _, stat := range failures {
			fmt.Fprintf(w, "- %s: %d failures\n", stat.Name, stat.Failures)
		}
	}
	if len(slowest) > 0 {
		fmt.Fprintf(w, "\nTop %d slowest packages:\n", len(slowest))
		for _, stat := range slowest {
			fmt.Fprintf(w, "- %s: %.1fs average (%d failures)\n", stat.Name, stat.AvgDuration, stat.Failures)
		}
	}
	if summary != nil {
		fmt.Fprintf(w, "\nPackage summary for %s:\n", summary.Name)
		for status, count := range summary.StatusCounts {
			fmt.Fprintf(w, "- %s: %d\n", status, count)
		}
		if summary.Latest != nil {
			fmt.Fprintf(w, "Latest: %s %s at %s\n", summary.Latest.Status, summary.Latest.Version,
				summary.Latest.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		}
	}
	if f.exportCSV != "" {
		fmt.Fprintf(w, "\nExported CSV to %s\n", f.exportCSV)
	}
	return nil
}
