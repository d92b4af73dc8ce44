package grok

import (
	"math"
	"time"

	"github.com/kitbuilder587/grok-search-mcp/internal/llm"
)

const minBackoff = 100 * time.Millisecond

// retryState lives for one Search/Fetch call.
type retryState struct {
	attempt int // 0-based index of the attempt in flight
	lastErr error
}

func (s retryState) next(err error) retryState {
	return retryState{attempt: s.attempt + 1, lastErr: err}
}

// step is what the executor does after a failed attempt: sleep for delay
// and go again, or give up with fail.
type step struct {
	delay time.Duration
	fail  error
}

func (c *Client) decide(s retryState, err error) step {
	if !llm.IsRetryable(err) {
		return step{fail: err}
	}
	if s.attempt >= c.maxAttempts {
		return step{fail: &llm.MaxRetriesError{
			Attempts:  c.maxAttempts + 1,
			LastError: err.Error(),
		}}
	}
	return step{delay: c.backoff(s.attempt)}
}

// backoff returns min(multiplier^attempt, maxWait) seconds scaled by
// jitter, never below 100ms.
func (c *Client) backoff(attempt int) time.Duration {
	base := math.Pow(c.multiplier, float64(attempt))
	capped := math.Min(base, c.maxWait.Seconds())
	secs := math.Max(capped*c.jitter(), minBackoff.Seconds())
	return time.Duration(secs * float64(time.Second))
}
