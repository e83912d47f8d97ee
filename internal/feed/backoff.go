package feed

import "time"

const (
	// DefaultMaxAttempts is how many reconnects follow a failure before the
	// client gives up.
	DefaultMaxAttempts = 5

	backoffCap = 30
)

// Backoff returns the wait before reconnect attempt n (1-based):
// min(2^n, 30) units.
func Backoff(attempt int, unit time.Duration) time.Duration {
	if attempt < 1 {
		return unit
	}
	mult := backoffCap
	if attempt < 5 {
		mult = 1 << attempt
	}
	return time.Duration(mult) * unit
}
