// Package corelog is a small leveled logger used across corefuzz instead of
// bare fmt.Println/log.Printf calls, in the style of the logging helpers
// syzkaller-family tools pass around as a single process-wide verbosity gate.
package corelog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

var verbosity int32

// SetVerbosity sets the process-wide log verbosity (0 = quiet).
func SetVerbosity(v int) {
	atomic.StoreInt32(&verbosity, int32(v))
}

// V reports whether messages at the given verbosity level should be emitted.
func V(level int) bool {
	return int32(level) <= atomic.LoadInt32(&verbosity)
}

var std = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)

// Logf logs a leveled message, gated by the current verbosity.
func Logf(level int, format string, args ...any) {
	if !V(level) {
		return
	}
	std.Output(2, fmt.Sprintf(format, args...))
}

// Errorf always logs, regardless of verbosity; used for user-visible errors.
func Errorf(format string, args ...any) {
	std.Output(2, "ERROR: "+fmt.Sprintf(format, args...))
}

// Fatalf logs and terminates the process, for unrecoverable launcher/broker
// failures.
func Fatalf(format string, args ...any) {
	std.Output(2, "FATAL: "+fmt.Sprintf(format, args...))
	os.Exit(1)
}
