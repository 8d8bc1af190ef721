package notify

import (
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
)

const (
	// maxAttempts bounds delivery attempts for a rate-limited message.
	maxAttempts = 4
	// baseBackoff is the first wait after a rate-limit response.
	baseBackoff = time.Second
)

// retryOnRateLimit calls send until it succeeds, fails with an error that
// isRateLimited rejects, or maxAttempts is reached. Waits grow
// exponentially from base.
func retryOnRateLimit(base time.Duration, isRateLimited func(error) bool, send func() error) error {
	var permanent error
	err := retry.Retry(func(attempt uint) error {
		err := send()
		if err != nil && !isRateLimited(err) {
			permanent = err
			return nil
		}
		return err
	},
		strategy.Limit(maxAttempts),
		strategy.Backoff(backoff.Exponential(base, 2)),
	)
	if permanent != nil {
		return permanent
	}
	return err
}
