package main

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/builder"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/config"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/hints"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/history"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/index"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/manifest"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/objectstore"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/refinery"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/resolver"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/scheduler"
)

type runFlags struct {
	input  string
	output string
	cache  string

	python          string
	platformTag     string
	upgradeStrategy string
	configFile      string
	indexURL        string
	extraIndexURLs  []string
	trustedHosts    []string

	historyDB          string
	hintsFile          string
	allowRecipes       bool
	noRecipes          bool
	dryRunRecipes      bool
	maxAttempts        int
	attemptTimeout     time.Duration
	attemptBackoffBase time.Duration
	attemptBackoffMax  time.Duration

	containerImage  string
	containerEngine string
	containerPreset string
	containerCPU    string
	containerMemory string

	autoApply         bool
	fallbackLatest    bool
	jobs              int
	schedule          string
	manifestPath      string
	snapshotPath      string
	skipKnownFailures bool

	publishEndpoint  string
	publishBucket    string
	publishAccessKey string
	publishSecretKey string
	publishSSL       bool
}

func newRunCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan input wheels and rebuild what the target cannot use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefinery(cmd, f)
		},
	}
	addRunFlags(cmd, &f)
	for _, required := range []string{"input", "output", "cache", "python"} {
		cobra.CheckErr(cmd.MarkFlagRequired(required))
	}
	return cmd
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	flags := cmd.Flags()
	flags.StringVar(&f.input, "input", "", "Directory containing foreign wheels")
	flags.StringVar(&f.output, "output", "", "Directory to write s390x wheels to")
	flags.StringVar(&f.cache, "cache", "", "Shared cache directory")
	flags.StringVar(&f.python, "python", "", "Target Python version (e.g. 3.11)")
	flags.StringVar(&f.platformTag, "platform-tag", "", "Target platform tag (default manylinux2014_s390x)")
	flags.StringVar(&f.upgradeStrategy, "upgrade-strategy", "", "Upgrade strategy (pinned or eager)")
	flags.StringVar(&f.configFile, "config", "", "Optional JSON config file")
	flags.StringVar(&f.indexURL, "index-url", "", "Primary package index URL")
	flags.StringArrayVar(&f.extraIndexURLs, "extra-index-url", nil, "Additional package indexes")
	flags.StringArrayVar(&f.trustedHosts, "trusted-host", nil, "Trusted hosts for pip operations")
	flags.StringVar(&f.historyDB, "history-db", "", "History database path or DSN (default <cache>/history.db)")
	flags.StringVar(&f.hintsFile, "hints", "", "Path to hint catalog YAML")
	flags.BoolVar(&f.allowRecipes, "allow-system-recipes", false, "Allow executing system recipes from overrides")
	flags.BoolVar(&f.noRecipes, "no-system-recipes", false, "Disable executing system recipes")
	flags.BoolVar(&f.dryRunRecipes, "dry-run-recipes", false, "Log system recipes without executing them")
	flags.IntVar(&f.maxAttempts, "max-attempts", 0, "Max build attempts per package (default 3)")
	flags.DurationVar(&f.attemptTimeout, "attempt-timeout", 0, "Timeout per build step (default 15m)")
	flags.DurationVar(&f.attemptBackoffBase, "attempt-backoff-base", 0, "Base backoff between attempts (default 5s)")
	flags.DurationVar(&f.attemptBackoffMax, "attempt-backoff-max", 0, "Max backoff between attempts (default 1m)")
	flags.StringVar(&f.containerImage, "container-image", "", "Container image to run builds in")
	flags.StringVar(&f.containerEngine, "container-engine", "", "Container engine (docker or podman)")
	flags.StringVar(&f.containerPreset, "container-preset", "", "Preset container base (rocky, fedora, ubuntu)")
	flags.StringVar(&f.containerCPU, "container-cpu", "", "Container CPU limit")
	flags.StringVar(&f.containerMemory, "container-memory", "", "Container memory limit")
	flags.BoolVar(&f.autoApply, "auto-apply-suggestions", false, "Fold hint suggestions into package overrides")
	flags.BoolVar(&f.fallbackLatest, "fallback-latest", false, "Satisfy unpinned requirements from the index")
	flags.IntVar(&f.jobs, "jobs", 1, "Number of concurrent build jobs")
	flags.StringVar(&f.schedule, "schedule", scheduler.ShortestFirst, "Scheduling strategy (shortest-first or fifo)")
	flags.StringVar(&f.manifestPath, "manifest", "", "Manifest output path (default <output>/manifest.json)")
	flags.StringVar(&f.snapshotPath, "plan-snapshot", "", "Plan snapshot output path")
	flags.BoolVar(&f.skipKnownFailures, "skip-known-failures", false, "Skip builds whose last history entry failed")
	flags.StringVar(&f.publishEndpoint, "publish-endpoint", "", "S3-compatible endpoint to publish built wheels to")
	flags.StringVar(&f.publishBucket, "publish-bucket", "", "Bucket for published wheels")
	flags.StringVar(&f.publishAccessKey, "publish-access-key", "", "Access key for wheel publishing")
	flags.StringVar(&f.publishSecretKey, "publish-secret-key", "", "Secret key for wheel publishing")
	flags.BoolVar(&f.publishSSL, "publish-ssl", false, "Use TLS when publishing wheels")
}

func runRefinery(cmd *cobra.Command, f runFlags) error {
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
		InputDir:          f.input,
		OutputDir:         f.output,
		Jobs:              f.jobs,
		Strategy:          f.schedule,
		SkipKnownFailures: f.skipKnownFailures,
		SnapshotPath:      f.snapshotPath,
		Resolver:          resolver.Options{Index: index.New(cfg.Index)},
		Publish:           publish,
	}
	m, err := runner.Run(ctx, opts)
	if err != nil {
		return err
	}

	manifestPath := f.manifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(f.output, "manifest.json")
	}
	if err := manifest.Write(m, manifestPath); err != nil {
		return err
	}
	log.Printf("manifest written to %s", manifestPath)
	if m.HasFailures() {
		return fmt.Errorf("run finished with failures; see %s", manifestPath)
	}
	return nil
}

func configOptions(cmd *cobra.Command, f runFlags) config.Options {
	opts := config.Options{
		TargetPython:       f.python,
		TargetPlatformTag:  f.platformTag,
		UpgradeStrategy:    f.upgradeStrategy,
		IndexURL:           f.indexURL,
		ExtraIndexURLs:     f.extraIndexURLs,
		TrustedHosts:       f.trustedHosts,
		ConfigFile:         f.configFile,
		MaxAttempts:        f.maxAttempts,
		AttemptTimeout:     f.attemptTimeout,
		AttemptBackoffBase: f.attemptBackoffBase,
		AttemptBackoffMax:  f.attemptBackoffMax,
		ContainerImage:     f.containerImage,
		ContainerEngine:    f.containerEngine,
		ContainerPreset:    f.containerPreset,
		ContainerCPU:       f.containerCPU,
		ContainerMemory:    f.containerMemory,
	}
	if f.noRecipes {
		opts.AllowSystemRecipes = boolPtr(false)
	} else if f.allowRecipes {
		opts.AllowSystemRecipes = boolPtr(true)
	}
	if cmd.Flags().Changed("dry-run-recipes") {
		opts.DryRunRecipes = boolPtr(f.dryRunRecipes)
	}
	if cmd.Flags().Changed("auto-apply-suggestions") {
		opts.AutoApplySuggestions = boolPtr(f.autoApply)
	}
	if cmd.Flags().Changed("fallback-latest") {
		opts.FallbackLatest = boolPtr(f.fallbackLatest)
	}
	return opts
}

func publishStore(cmd *cobra.Command, f runFlags) (objectstore.Store, error) {
	if f.publishEndpoint == "" {
		return nil, nil
	}
	return objectstore.NewMinIOStore(cmd.Context(), f.publishEndpoint, f.publishAccessKey, f.publishSecretKey, f.publishBucket, f.publishSSL)
}

func boolPtr(v bool) *bool { return &v }
