package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/builder"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/config"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/hints"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/history"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/manifest"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/queue"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/refinery"
)

func newWorkerCommand() *cobra.Command {
	var f runFlags
	var queueSpec string
	var max int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Drain the retry queue and build the requested packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, f, queueSpec, max)
		},
	}
	addRunFlags(cmd, &f)
	cmd.Flags().StringVar(&queueSpec, "queue", "", "Retry queue (file path, redis:// URL or kafka://brokers/topic)")
	cmd.Flags().IntVar(&max, "max", 10, "Maximum requests to drain")
	for _, required := range []string{"output", "cache", "python", "queue"} {
		cobra.CheckErr(cmd.MarkFlagRequired(required))
	}
	return cmd
}

func runWorker(cmd *cobra.Command, f runFlags, queueSpec string, max int) error {
	ctx := cmd.Context()
	cfg, err := config.Build(configOptions(cmd, f))
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	historyDSN := f.historyDB
	if historyDSN == "" {
		historyDSN = filepath.Join(f.cache, "history.db")
	}
	store, err := history.Open(historyDSN)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	catalog, err := hints.Load(f.hintsFile)
	if err != nil {
		return err
	}
	wb := builder.New(f.cache, f.output, cfg, builder.Options{
		History: store,
		RunID:   runID,
		Hints:   catalog,
	})
	runner := refinery.NewRunner(cfg, store, wb, runID)

	publish, err := publishStore(cmd, f)
	if err != nil {
		return err
	}
	opts := refinery.Options{
		OutputDir: f.output,
		Publish:   publish,
	}
	entries, err := runner.DrainQueue(ctx, opts, queue.Open(queueSpec), nil, max)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		log.Printf("retry queue empty")
		return nil
	}
	failures := 0
	for _, entry := range entries {
		log.Printf("%s %s==%s", entry.Status, entry.Name, entry.Version)
		if entry.Status == manifest.StatusFailed || entry.Status == manifest.StatusMissing {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d drained requests failed", failures, len(entries))
	}
	return nil
}
