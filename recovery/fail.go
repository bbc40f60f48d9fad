package recovery

import (
	"log/slog"
	"os"
)

// FailFn terminates the process after logging an unrecoverable condition.
// Recovery precedes serving: a partial recovery left behind is worse than a
// crash loop, because the next startup can still succeed from the same
// on-disk state. Implementations must not return.
//
// Tests inject a FailFn that panics with a sentinel instead of exiting.
type FailFn func(code int, msg string, args ...any)

// defaultFailFn logs the condition with its stable numeric code and aborts
// the process immediately, with no stack unwinding.
func defaultFailFn(logger *slog.Logger) FailFn {
	return func(code int, msg string, args ...any) {
		logger.Error(msg, append(args, "code", code)...)
		os.Exit(1)
	}
}
