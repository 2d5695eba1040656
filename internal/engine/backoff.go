package engine

import "time"

// backoffDelay computes the exponential retry delay for the given attempt
// count, capped at max. attempt counts completed tries, so the first
// retry waits one base interval.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base << uint(attempt)
	if max > 0 && (d > max || d <= 0) {
		d = max
	}
	return d
}
