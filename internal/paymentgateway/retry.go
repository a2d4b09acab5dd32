package paymentgateway

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds call-site retries around gateway operations.
type RetryPolicy struct {
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}
	b := retry.NewExponential(initial)
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	b = retry.WithJitterPercent(20, b)

	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return retry.WithMaxRetries(retries, b)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the policy gives up.
// Only GatewayErrors marked Retryable are retried.
func Do[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			var gwErr *GatewayError
			if errors.As(err, &gwErr) && gwErr.Retryable {
				return retry.RetryableError(err)
			}
			return err
		}
		out = v
		return nil
	})
	return out, err
}
