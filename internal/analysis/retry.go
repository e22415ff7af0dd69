package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
)

type chatFunc func(ctx context.Context) (*ChatResponse, error)

// do runs call under the policy's timeout, retrying with exponential backoff
// while isRateLimit reports the failure as a rate limit.
func (p callPolicy) do(ctx context.Context, call chatFunc, isRateLimit func(error) bool) (*ChatResponse, error) {
	backoff := retry.WithMaxRetries(uint64(p.maxRetries), retry.NewExponential(p.baseDelay))

	resp, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (*ChatResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		resp, err := call(callCtx)
		if err == nil {
			return resp, nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, p.timeout)
		}
		if isRateLimit(err) {
			return nil, retry.RetryableError(fmt.Errorf("%w: %w", ErrRateLimited, err))
		}
		return nil, err
	})
	if errors.Is(err, ErrRateLimited) {
		return nil, fmt.Errorf("%w: max retries (%d) exceeded for rate limit", ErrRetriesExhausted, p.maxRetries)
	}
	return resp, err
}
