// Package telemetry implements the read-only adapters the Diagnosis
// Agent and Containment Agent use to pull metrics, logs, and cluster
// events, each distinguishing BackendUnavailable from BackendTimeout so
// callers can decide whether the remaining retry budget is worth
// spending.
package telemetry

import (
	"context"
	"time"
)

// backoffSchedule is the fixed exponential backoff shared by the
// metrics and logs adapters: 100ms, 400ms, 1.6s. The events adapter
// does not retry.
var backoffSchedule = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

// withRetry runs op up to len(backoffSchedule)+1 times, sleeping the
// schedule between attempts, and gives up early if ctx is done or op
// returns a non-retryable error (retryable decides).
func withRetry(ctx context.Context, retryable func(error) bool, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == len(backoffSchedule) {
			break
		}
		select {
		case <-time.After(backoffSchedule[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
