// Package retry runs an operation again with exponential backoff and jitter
// until it succeeds, fails permanently or runs out of attempts.
//
// Usage:
//
//	cfg := retry.DefaultConfig()
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    log.Warn("save failed, retrying", "attempt", attempt, "delay", delay, "error", err)
//	}
//	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
//	    return store.Save(ctx, name, snap)
//	})
//
// Errors wrapped with Permanent stop the loop immediately.
package retry
