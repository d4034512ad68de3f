package builder

import (
	"fmt"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/hints"
)

// AttemptError describes one failed build attempt: which variant and attempt
// failed, where the log lives, and any remediation hint derived from output.
type AttemptError struct {
	Message    string
	LogPath    string
	Variant    string
	Attempt    int
	Hint       string
	Duration   float64
	Suggestion *hints.Suggestion
}

func (e *AttemptError) Error() string { return e.Message }

func attemptErrorf(logPath, variant string, attempt int, hint string, duration float64, format string, args ...any) *AttemptError {
	return &AttemptError{
		Message:  fmt.Sprintf(format, args...),
		LogPath:  logPath,
		Variant:  variant,
		Attempt:  attempt,
		Hint:     hint,
		Duration: duration,
	}
}
