// Package recovery guards daemon goroutines against panics.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog logs a recovered panic together with the goroutine's
// name and stack. Defer it at the top of every goroutine the daemon
// starts; a panicking session must not take the node down with it.
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "peer.read")
//	    ...
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logger.Error("goroutine panicked",
			"goroutine", name,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()))
	}
}

// RecoverWithCleanup behaves like RecoverWithLog and additionally runs
// cleanup after logging, so a panicking goroutine can still release the
// resources it owned. cleanup runs only when a panic was recovered.
func RecoverWithCleanup(logger *slog.Logger, name string, cleanup func()) {
	if r := recover(); r != nil {
		logger.Error("goroutine panicked",
			"goroutine", name,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()))
		if cleanup != nil {
			cleanup()
		}
	}
}
