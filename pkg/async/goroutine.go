// Package async provides panic-safe helpers for background work.
package async

import (
	"context"
	"log"
	"runtime/debug"
	"time"
)

// SafeGo executes a function in a goroutine with context cancellation,
// panic recovery, timeout enforcement, and error logging. Use this instead
// of a bare `go func()` for fire-and-forget work such as audit writes.
//
// Example:
//
//	SafeGo(ctx, 5*time.Second, "audit record", func(ctx context.Context) error {
//	    return emitter.Record(ctx, entry)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		// Detach from the parent's cancellation: the task must outlive the
		// request that spawned it, bounded only by the timeout.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] PANIC in %s: %v\nStack trace:\n%s",
					taskName, r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			log.Printf("[SafeGo] Error in %s: %v", taskName, err)
		}
	}()
}
