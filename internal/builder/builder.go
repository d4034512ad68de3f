// Package builder turns build jobs into wheels. Each job gets a bounded
// number of attempts across build variants, with a cache probe before the
// first attempt and a single hint-driven retry after the budget is spent.
package builder

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/config"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/hints"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/history"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/manifest"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/plan"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/wheel"
)

// Recorder is the slice of the history store the builder needs. Nil means
// no history is kept.
type Recorder interface {
	RecordEvent(ctx context.Context, evt history.Event) error
	VariantSuccessRate(ctx context.Context, name string) (map[string]float64, error)
}

// Result is the outcome of a successful BuildJob call.
type Result struct {
	Entry  manifest.Entry
	Cached bool
}

// Options customize a Builder beyond its required arguments.
type Options struct {
	History Recorder
	RunID   string
	Exec    Executor
	Hints   *hints.Catalog
}

// Builder builds wheels into an output directory, caching intermediates
// under a cache directory. It is safe for concurrent BuildJob calls.
type Builder struct {
	cfg            *config.Config
	cacheDir       string
	outputDir      string
	venvDir        string
	cacheWheelDir  string
	venvPython     string
	exec           Executor
	hints          *hints.Catalog
	history        Recorder
	runID          string
	containerImage string

	mu            sync.Mutex
	ready         bool
	completed     map[string]bool
	attemptCounts map[string]int
}

// New returns a Builder rooted at the given cache and output directories.
func New(cacheDir, outputDir string, cfg *config.Config, opts Options) *Builder {
	image := cfg.ContainerImage
	if image == "" {
		image = config.ImageForPreset(cfg.ContainerPreset)
	}
	exec := opts.Exec
	if exec == nil {
		exec = ExecExecutor{}
	}
	catalog := opts.Hints
	if catalog == nil {
		catalog = &hints.Catalog{}
	}
	runID := opts.RunID
	if runID == "" {
		runID = "local"
	}
	venvDir := filepath.Join(cacheDir, "venv")
	return &Builder{
		cfg:            cfg,
		cacheDir:       cacheDir,
		outputDir:      outputDir,
		venvDir:        venvDir,
		cacheWheelDir:  filepath.Join(cacheDir, "wheels"),
		venvPython:     filepath.Join(venvDir, "bin", "python"),
		exec:           exec,
		hints:          catalog,
		history:        opts.History,
		runID:          runID,
		containerImage: image,
	}
}

// EnsureReady creates the directories and the build venv. It runs at most
// once; BuildJob calls it implicitly.
func (b *Builder) EnsureReady(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return nil
	}
	for _, dir := range []string{b.outputDir, b.cacheDir, b.cacheWheelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(b.venvDir); os.IsNotExist(err) {
		log.Printf("creating venv at %s", b.venvDir)
		if err := b.run(ctx, []string{"python3", "-m", "venv", b.venvDir}, hostEnv()); err != nil {
			return fmt.Errorf("create venv: %w", err)
		}
	}
	args := []string{b.venvPython, "-m", "pip", "install"}
	args = append(args, b.pipIndexArgs()...)
	args = append(args, "--upgrade", "pip", "build")
	if err := b.run(ctx, args, b.pipEnv()); err != nil {
		return fmt.Errorf("bootstrap build tooling: %w", err)
	}
	if b.completed == nil {
		b.completed = map[string]bool{}
		b.attemptCounts = map[string]int{}
	}
	b.ready = true
	return nil
}

// BuildJob drives one job through the attempt state machine. The cache probe
// consumes no attempt; each real attempt picks the next variant, backs off
// exponentially between failures, and a final hint-derived retry runs once
// after the budget is exhausted when the last failure produced a suggestion.
func (b *Builder) BuildJob(ctx context.Context, job plan.Job) (Result, error) {
	if err := b.EnsureReady(ctx); err != nil {
		return Result{}, err
	}
	key := jobKey(job)
	b.mu.Lock()
	spent := b.attemptCounts[key]
	b.mu.Unlock()
	if spent >= b.cfg.MaxAttempts {
		return Result{}, fmt.Errorf("exceeded max attempts for %s==%s", job.Name, job.Version)
	}

	override := b.cfg.OverrideCopy(job.Name)
	recipeRan := false
	if override != nil && len(override.SystemRecipe) > 0 {
		ran, err := b.runSystemRecipe(ctx, job, override)
		if err != nil {
			return Result{}, err
		}
		recipeRan = ran
	}

	if cached := b.findCached(job); cached != "" {
		target, err := b.copyToOutput(cached)
		if err != nil {
			return Result{}, err
		}
		entry := manifest.Entry{
			Name:    job.Name,
			Version: job.Version,
			Status:  manifest.StatusCached,
			Path:    target,
			Detail:  detailWithOverrides("Reused cached wheel", override),
		}
		b.recordEntry(ctx, entry, job, override, true, recipeRan, nil)
		return Result{Entry: entry, Cached: true}, nil
	}

	variants := b.variants(ctx, job.Name)
	maxAttempts := b.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	var lastSuggestion *hints.Suggestion
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		idx := attempt - 1
		if idx >= len(variants) {
			idx = len(variants) - 1
		}
		variant := variants[idx]
		entry, err := b.attemptBuild(ctx, job, override, variant, attempt, recipeRan)
		if err == nil {
			return Result{Entry: entry}, nil
		}
		lastErr = err
		variantName := variant.Name
		logPath, hint := "", ""
		var duration float64
		if attErr, ok := err.(*AttemptError); ok {
			variantName = attErr.Variant
			logPath = attErr.LogPath
			hint = attErr.Hint
			duration = attErr.Duration
			lastSuggestion = attErr.Suggestion
			if attErr.Suggestion != nil && b.cfg.AutoApplySuggestions {
				b.applySuggestion(job, *attErr.Suggestion)
			}
		}
		b.recordFailedAttempt(ctx, job, err, variantName, attempt, logPath, hint, duration)
		log.Printf("attempt %d/%d failed for %s: %v (variant=%s log=%s)",
			attempt, maxAttempts, job.SourceSpec, err, variantName, logPath)
		if attempt < maxAttempts {
			if err := b.backoff(ctx, attempt, job.SourceSpec); err != nil {
				return Result{}, err
			}
		}
	}

	if lastSuggestion != nil {
		if entry, err := b.hintRetry(ctx, job, override, variants[0], maxAttempts+1, lastSuggestion); err == nil {
			return Result{Entry: entry}, nil
		} else {
			lastErr = err
		}
	}
	return Result{}, fmt.Errorf("exhausted %d attempts for %s: %w", maxAttempts, job.SourceSpec, lastErr)
}

// hintRetry runs one extra attempt with the suggestion's install steps
// layered onto a copy of the override.
func (b *Builder) hintRetry(ctx context.Context, job plan.Job, override *config.PackageOverride, variant Variant, attempt int, suggestion *hints.Suggestion) (manifest.Entry, error) {
	steps := suggestion.RecipeSteps()
	if len(steps) == 0 {
		return manifest.Entry{}, fmt.Errorf("no runnable steps in suggestion for %s", job.SourceSpec)
	}
	log.Printf("retrying %s with hint-derived recipe steps: %s", job.SourceSpec, strings.Join(steps, "; "))
	temp := override.Clone()
	if temp == nil {
		temp = &config.PackageOverride{}
	}
	for _, step := range steps {
		if !containsString(temp.SystemRecipe, step) {
			temp.SystemRecipe = append(temp.SystemRecipe, step)
		}
	}
	if _, err := b.runSystemRecipe(ctx, job, temp); err != nil {
		return manifest.Entry{}, err
	}
	return b.attemptBuild(ctx, job, temp, variant, attempt, true)
}

// attemptBuild downloads the sdist, extracts it and builds a wheel into the
// cache, then publishes it to the output directory.
func (b *Builder) attemptBuild(ctx context.Context, job plan.Job, override *config.PackageOverride, variant Variant, attempt int, recipeRan bool) (manifest.Entry, error) {
	buildEnv := b.envFor(override, variant)
	logPath := filepath.Join(b.cacheDir, "logs",
		fmt.Sprintf("%s-%s-attempt%d-%s.log", job.Name, job.Version, attempt, variant.Name))
	start := time.Now()

	workDir, err := os.MkdirTemp(b.cacheDir, fmt.Sprintf("build-%s-%s-", job.Name, job.Version))
	if err != nil {
		return manifest.Entry{}, err
	}
	defer os.RemoveAll(workDir)

	downloadDir := filepath.Join(workDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return manifest.Entry{}, err
	}
	log.Printf("downloading source for %s (variant=%s attempt=%d)", job.SourceSpec, variant.Name, attempt)
	download := []string{b.venvPython, "-m", "pip", "download", "--no-deps", "--no-binary", ":all:", "-d", downloadDir, job.SourceSpec}
	download = append(download, b.pipIndexArgs()...)
	if err := b.runStep(ctx, download, buildEnv, logPath, "download", variant.Name, attempt, job.ResourceCPU, job.ResourceMem); err != nil {
		return manifest.Entry{}, err
	}

	sdist, err := firstSdist(downloadDir)
	if err != nil {
		return manifest.Entry{}, fmt.Errorf("no sdist found for %s: %w", job.SourceSpec, err)
	}
	sourceDir := filepath.Join(workDir, "src")
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		return manifest.Entry{}, err
	}
	if err := extractArchive(sdist, sourceDir); err != nil {
		return manifest.Entry{}, fmt.Errorf("extract %s: %w", filepath.Base(sdist), err)
	}

	log.Printf("building wheel for %s (variant=%s attempt=%d)", job.SourceSpec, variant.Name, attempt)
	build := []string{b.venvPython, "-m", "build", "--wheel", "--outdir", b.cacheWheelDir}
	if !variant.BuildIsolation {
		build = append(build, "--no-isolation")
	}
	build = append(build, variant.ExtraBuildArgs...)
	build = append(build, buildRoot(sourceDir))
	if err := b.runStep(ctx, build, buildEnv, logPath, "build", variant.Name, attempt, job.ResourceCPU, job.ResourceMem); err != nil {
		return manifest.Entry{}, err
	}

	built := b.findCached(job)
	if built == "" {
		return manifest.Entry{}, fmt.Errorf("build finished but wheel not found for %s==%s", job.Name, job.Version)
	}
	target, err := b.copyToOutput(built)
	if err != nil {
		return manifest.Entry{}, err
	}

	key := jobKey(job)
	b.mu.Lock()
	if b.attemptCounts == nil {
		b.attemptCounts = map[string]int{}
		b.completed = map[string]bool{}
	}
	b.attemptCounts[key] = attempt
	b.completed[key] = true
	b.mu.Unlock()

	duration := time.Since(start).Seconds()
	meta := map[string]any{
		history.MetaVariant:  variant.Name,
		history.MetaAttempt:  attempt,
		history.MetaLogPath:  logPath,
		history.MetaDuration: duration,
	}
	entry := manifest.Entry{
		Name:    job.Name,
		Version: job.Version,
		Status:  manifest.StatusBuilt,
		Path:    target,
		Detail: detailWithOverrides(
			fmt.Sprintf("%s; variant=%s; attempt=%d; recipe_ran=%t; log=%s",
				job.Reason, variant.Name, attempt, recipeRan, logPath),
			override),
		Metadata: meta,
	}
	eventMeta := map[string]any{
		history.MetaVariant:  variant.Name,
		history.MetaAttempt:  attempt,
		history.MetaLogPath:  logPath,
		history.MetaDuration: duration,
	}
	if len(job.Parents) > 0 {
		eventMeta["parents"] = job.Parents
	}
	if len(job.Children) > 0 {
		eventMeta["children"] = job.Children
	}
	b.recordEntry(ctx, entry, job, override, false, recipeRan, eventMeta)
	return entry, nil
}

// runSystemRecipe executes an override's recipe steps one by one. It reports
// whether the steps actually ran; recipes disabled globally or in dry-run
// mode are logged instead.
func (b *Builder) runSystemRecipe(ctx context.Context, job plan.Job, override *config.PackageOverride) (bool, error) {
	if !b.cfg.AllowSystemRecipes {
		log.Printf("skipping system recipe for %s (disabled)", job.Name)
		return false, nil
	}
	if b.cfg.DryRunRecipes {
		for _, step := range override.SystemRecipe {
			log.Printf("dry-run recipe for %s: %s", job.Name, step)
		}
		return false, nil
	}
	env := b.envFor(override, Variant{})
	for _, step := range override.SystemRecipe {
		log.Printf("running system recipe for %s: %s", job.Name, step)
		argv := []string{"/bin/sh", "-c", step}
		runEnv := env
		if b.containerImage != "" {
			argv = b.containerized(argv, env, 0, 0)
			runEnv = hostEnv()
		}
		output, err := b.exec.Run(ctx, argv, runEnv)
		if err != nil {
			log.Printf("system recipe step failed for %s: %v", job.Name, err)
			b.recordRecipeEvent(ctx, job, history.StatusRecipeFailed,
				fmt.Sprintf("step failed: %s: %v", step, err), step, output)
			return false, fmt.Errorf("system recipe step %q: %w", step, err)
		}
		b.recordRecipeEvent(ctx, job, history.StatusRecipeRan,
			"Step succeeded: "+step, step, output)
	}
	return true, nil
}

// findCached returns the path of a cached wheel matching the job's name,
// version and target tags, or "".
func (b *Builder) findCached(job plan.Job) string {
	paths, err := filepath.Glob(filepath.Join(b.cacheWheelDir, "*.whl"))
	if err != nil {
		return ""
	}
	want := wheel.NormalizeName(job.Name)
	for _, path := range paths {
		name, version, tags, err := wheel.ParseFilename(filepath.Base(path))
		if err != nil {
			continue
		}
		if wheel.NormalizeName(name) != want || version != job.Version {
			continue
		}
		info := wheel.Info{Tags: tags}
		if info.Supports(job.PythonTag, job.PlatformTag) {
			return path
		}
	}
	return ""
}

func (b *Builder) copyToOutput(wheelPath string) (string, error) {
	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(b.outputDir, filepath.Base(wheelPath))
	src, err := os.Open(wheelPath)
	if err != nil {
		return "", err
	}
	defer src.Close()
	dst, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return target, nil
}

// applySuggestion folds a suggestion into the live override for the package
// so later attempts and runs pick it up. Appends are idempotent; the amend
// runs under the config's override lock so concurrent jobs reading their own
// override copies never see a partial update.
func (b *Builder) applySuggestion(job plan.Job, suggestion hints.Suggestion) {
	b.cfg.AmendOverride(job.Name, func(override *config.PackageOverride) {
		for _, distro := range []string{"dnf", "apt"} {
			for _, pkg := range suggestion.Packages[distro] {
				if !containsString(override.SystemPackages, pkg) {
					override.SystemPackages = append(override.SystemPackages, pkg)
					log.Printf("auto-applied suggested system package for %s: %s", job.Name, pkg)
				}
			}
		}
		for _, step := range suggestion.RecipeSteps() {
			if !containsString(override.SystemRecipe, step) {
				override.SystemRecipe = append(override.SystemRecipe, step)
			}
		}
	})
}

// backoffDelay doubles the base delay for each completed attempt, capped at
// max: base, 2*base, 4*base and so on.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return delay
}

func (b *Builder) backoff(ctx context.Context, attempt int, spec string) error {
	delay := backoffDelay(b.cfg.AttemptBackoffBase, b.cfg.AttemptBackoffMax, attempt)
	if delay <= 0 {
		return nil
	}
	log.Printf("backing off for %s before next attempt for %s", delay, spec)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Completed reports whether the builder already produced a wheel for the
// name and version during this run.
func (b *Builder) Completed(name, version string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed[strings.ToLower(name)+"=="+version]
}

func (b *Builder) envFor(override *config.PackageOverride, variant Variant) map[string]string {
	env := b.pipEnv()
	if override != nil {
		for k, v := range override.Env {
			env[k] = v
		}
	}
	for k, v := range variant.EnvPatch {
		env[k] = v
	}
	return env
}

func (b *Builder) pipEnv() map[string]string {
	env := hostEnv()
	if b.cfg.Index.IndexURL != "" {
		env["PIP_INDEX_URL"] = b.cfg.Index.IndexURL
	}
	if len(b.cfg.Index.ExtraIndexURLs) > 0 {
		env["PIP_EXTRA_INDEX_URL"] = strings.Join(b.cfg.Index.ExtraIndexURLs, " ")
	}
	if len(b.cfg.Index.TrustedHosts) > 0 {
		env["PIP_TRUSTED_HOST"] = strings.Join(b.cfg.Index.TrustedHosts, " ")
	}
	return env
}

func (b *Builder) pipIndexArgs() []string {
	var args []string
	if b.cfg.Index.IndexURL != "" {
		args = append(args, "--index-url", b.cfg.Index.IndexURL)
	}
	for _, extra := range b.cfg.Index.ExtraIndexURLs {
		args = append(args, "--extra-index-url", extra)
	}
	for _, host := range b.cfg.Index.TrustedHosts {
		args = append(args, "--trusted-host", host)
	}
	return args
}

// run executes a setup command, folding its output tail into the error.
func (b *Builder) run(ctx context.Context, argv []string, env map[string]string) error {
	if b.containerImage != "" {
		argv = b.containerized(argv, env, 0, 0)
		env = hostEnv()
	}
	output, err := b.exec.Run(ctx, argv, env)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, tail(output, 2000))
	}
	return nil
}

func (b *Builder) recordEntry(ctx context.Context, entry manifest.Entry, job plan.Job, override *config.PackageOverride, cached, recipeRan bool, metadata map[string]any) {
	if b.history == nil {
		return
	}
	meta := map[string]any{"system_recipe_ran": recipeRan}
	for k, v := range metadata {
		meta[k] = v
	}
	if override != nil {
		if len(override.Env) > 0 {
			meta["override_env"] = override.Env
		}
		if len(override.SystemPackages) > 0 {
			meta["system_packages"] = override.SystemPackages
		}
		if len(override.SystemRecipe) > 0 {
			meta["system_recipe"] = override.SystemRecipe
		}
		if override.Notes != "" {
			meta["notes"] = override.Notes
		}
	}
	b.record(ctx, history.Event{
		RunID:       b.runID,
		Name:        job.Name,
		Version:     job.Version,
		PythonTag:   job.PythonTag,
		PlatformTag: job.PlatformTag,
		Status:      entry.Status,
		SourceSpec:  job.SourceSpec,
		Detail:      entry.Detail,
		WheelPath:   entry.Path,
		Cached:      cached,
		Metadata:    meta,
	})
}

func (b *Builder) recordFailedAttempt(ctx context.Context, job plan.Job, cause error, variant string, attempt int, logPath, hint string, duration float64) {
	if b.history == nil {
		return
	}
	meta := map[string]any{
		history.MetaVariant: variant,
		history.MetaAttempt: attempt,
	}
	if logPath != "" {
		meta[history.MetaLogPath] = logPath
	}
	if hint != "" {
		meta[history.MetaHint] = hint
	}
	if duration > 0 {
		meta[history.MetaDuration] = duration
	}
	b.record(ctx, history.Event{
		RunID:       b.runID,
		Name:        job.Name,
		Version:     job.Version,
		PythonTag:   job.PythonTag,
		PlatformTag: job.PlatformTag,
		Status:      history.StatusFailedAttempt,
		SourceSpec:  job.SourceSpec,
		Detail:      cause.Error(),
		Metadata:    meta,
	})
}

func (b *Builder) recordRecipeEvent(ctx context.Context, job plan.Job, status, detail, step, output string) {
	if b.history == nil {
		return
	}
	b.record(ctx, history.Event{
		RunID:       b.runID,
		Name:        job.Name,
		Version:     job.Version,
		PythonTag:   job.PythonTag,
		PlatformTag: job.PlatformTag,
		Status:      status,
		SourceSpec:  job.SourceSpec,
		Detail:      detail,
		Metadata:    map[string]any{"step": step, "output": tail(output, 5000)},
	})
}

func (b *Builder) record(ctx context.Context, evt history.Event) {
	if err := b.history.RecordEvent(ctx, evt); err != nil {
		log.Printf("record %s event for %s: %v", evt.Status, evt.Name, err)
	}
}

func detailWithOverrides(base string, override *config.PackageOverride) string {
	if override == nil || (len(override.SystemPackages) == 0 && len(override.SystemRecipe) == 0) {
		return base
	}
	var details []string
	if len(override.SystemPackages) > 0 {
		details = append(details, "system packages required: "+strings.Join(override.SystemPackages, ", "))
	}
	if len(override.SystemRecipe) > 0 {
		details = append(details, "system recipe steps provided")
	}
	return base + " (" + strings.Join(details, "; ") + ")"
}

func jobKey(job plan.Job) string {
	return strings.ToLower(job.Name) + "==" + job.Version
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
