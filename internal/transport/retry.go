package transport

import "time"

// NextRetryTime returns when the delivery should run again after its
// attemptCount-th attempt just failed: base doubles per attempt, capped at
// max. The attempt budget itself is enforced by the worker.
func NextRetryTime(attemptCount int, base, max time.Duration) *time.Time {
	if attemptCount < 1 {
		attemptCount = 1
	}
	backoff := base
	for i := 1; i < attemptCount; i++ {
		backoff *= 2
		if backoff >= max {
			backoff = max
			break
		}
	}
	if backoff > max {
		backoff = max
	}
	t := time.Now().UTC().Add(backoff)
	return &t
}
