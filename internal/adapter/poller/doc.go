// Package poller drives the jobs of a registry: on every tick it asks each
// job's scheduler for the next run and attempts to start the runs that are due.
//
// Features:
//   - Ticks driven by github.com/robfig/cron/v3 ("@every <interval>")
//   - Overlapping ticks are skipped
//   - Panic recovery inside a tick
//   - Parent context support and graceful shutdown (StopContext)
//   - Idempotent Start/Stop operations
//   - Optional hooks for observability
//
// Basic usage:
//
//	p, err := poller.New(poller.Config{Jobs: reg, Interval: 5 * time.Second, Logger: logger})
//	if err != nil {
//		return err
//	}
//	p.Start()
//	defer p.Stop()
//
// Tick can also be called directly, e.g. from tests or a one-shot command.
package poller
