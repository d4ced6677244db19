package webhook

import "time"

// DefaultMaxAttempts is the number of HTTP attempts before a delivery is exhausted.
const DefaultMaxAttempts = 5

// DefaultBackoffSchedule maps the failed attempt number (1-based) to the delay
// before the next attempt.
var DefaultBackoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	6 * time.Hour,
}

// Backoff returns the retry delay after the given failed attempt. Attempts past
// the end of the schedule reuse its last entry.
func Backoff(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		schedule = DefaultBackoffSchedule
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}
