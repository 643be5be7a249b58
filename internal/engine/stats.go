package engine

import "sync/atomic"

// Stats are the run's progress counters. They are written by the run loop
// and may be read concurrently by a progress reporter.
type Stats struct {
	seen      atomic.Int64
	skipped   atomic.Int64
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	blocks    atomic.Int64
	retries   atomic.Int64
}

// Summary is a point-in-time copy of Stats.
type Summary struct {
	Seen      int64 // rows read, including rows skipped on resume
	Skipped   int64 // rows at or below the loaded checkpoint
	Processed int64
	Succeeded int64
	Failed    int64
	Blocks    int64 // blocks submitted
	Retries   int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Summary {
	return Summary{
		Seen:      s.seen.Load(),
		Skipped:   s.skipped.Load(),
		Processed: s.processed.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Blocks:    s.blocks.Load(),
		Retries:   s.retries.Load(),
	}
}
