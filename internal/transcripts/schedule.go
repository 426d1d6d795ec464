// Package transcripts retrieves call transcripts from the lagging batch
// transcript store, with a staircase retry schedule and terminal failure
// handling.
package transcripts

import "time"

// Schedule is the ordered retry delay table. Attempt n (1-based) waits
// Delays[n-1]; attempts past the end reuse the last delay. The table length
// is the maximum number of attempts.
type Schedule struct {
	Delays []time.Duration
}

// DefaultSchedule is 30s, 60s, 60s, 2m, 2m, 3m, 3m, 5m, 5m, 10m.
func DefaultSchedule() Schedule {
	return Schedule{Delays: []time.Duration{
		30 * time.Second,
		60 * time.Second,
		60 * time.Second,
		120 * time.Second,
		120 * time.Second,
		180 * time.Second,
		180 * time.Second,
		300 * time.Second,
		300 * time.Second,
		600 * time.Second,
	}}
}

// Delay returns the wait before attempt n.
func (s Schedule) Delay(attempt int) time.Duration {
	if len(s.Delays) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(s.Delays) {
		return s.Delays[len(s.Delays)-1]
	}
	return s.Delays[attempt-1]
}

// MaxAttempts is the number of lookups before a job fails for good.
func (s Schedule) MaxAttempts() int {
	return len(s.Delays)
}

// FirstAttemptAt is when a job created for a call ending at endedAt is first due.
func (s Schedule) FirstAttemptAt(endedAt time.Time) time.Time {
	return endedAt.Add(s.Delay(1))
}

// NextAttemptAt is when to retry after the given number of misses.
func (s Schedule) NextAttemptAt(now time.Time, misses int) time.Time {
	return now.Add(s.Delay(misses + 1))
}
