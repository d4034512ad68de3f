package builder

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Executor runs one external command with an explicit environment and
// returns its combined output. The default implementation shells out; tests
// substitute fakes.
type Executor interface {
	Run(ctx context.Context, argv []string, env map[string]string) (string, error)
}

// ExecExecutor runs commands through os/exec.
type ExecExecutor struct{}

// Run executes argv with exactly the provided environment. Ambient
// credentials never leak into build steps; only what the caller passes in
// reaches the child process.
func (ExecExecutor) Run(ctx context.Context, argv []string, env map[string]string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = flattenEnv(env)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// runStep executes one command under the attempt's wall-clock timeout and
// appends its output to the step log. A timeout is a distinguished failure
// carrying a canned hint.
func (b *Builder) runStep(ctx context.Context, argv []string, env map[string]string, logPath, step, variant string, attempt int, cpu, mem float64) error {
	timeout := b.cfg.AttemptTimeout
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if b.containerImage != "" {
		argv = b.containerized(argv, env, cpu, mem)
		env = hostEnv()
	}
	start := time.Now()
	output, err := b.exec.Run(runCtx, argv, env)
	elapsed := time.Since(start)

	header := "== step: " + step + "\n"
	if runCtx.Err() == context.DeadlineExceeded {
		header = "== step: " + step + " (timeout)\n"
	}
	if logErr := appendLog(logPath, header+output); logErr != nil {
		return logErr
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return attemptErrorf(logPath, variant, attempt,
			"Increase attempt timeout or check hanging build step",
			timeout.Seconds(),
			"%s timed out after %s. Log: %s", step, timeout, logPath)
	}
	if err != nil {
		attErr := attemptErrorf(logPath, variant, attempt, "", elapsed.Seconds(),
			"%s failed: %v. Log: %s", step, err, logPath)
		if suggestion, ok := b.hints.Diagnose(output); ok {
			attErr.Hint = suggestion.String()
			attErr.Suggestion = &suggestion
			attErr.Message += " Hint: " + attErr.Hint
		}
		return attErr
	}
	return nil
}

func appendLog(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

// hostEnv is the minimal environment container engine invocations get; the
// build environment itself travels as discrete -e flags.
func hostEnv() map[string]string {
	env := map[string]string{}
	for _, key := range []string{"PATH", "HOME", "DOCKER_HOST", "CONTAINER_HOST"} {
		if v := os.Getenv(key); v != "" {
			env[key] = v
		}
	}
	return env
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " \t\n'\"\\$&|;<>()*?[]#~%") {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
