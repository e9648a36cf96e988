package chat

import "time"

// exponentialBackoff computes a deterministic capped backoff duration for the
// given retry attempt (0-based: attempt 0 waits base, attempt 1 waits 2*base).
func exponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
