package notion

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

var (
	retryContextTimeout = 30 * time.Second
	defaultRetryOpts    = func(ctx context.Context) []retry.Option {
		return []retry.Option{
			retry.Context(ctx),
			retry.Attempts(4),
			retry.Delay(500 * time.Millisecond),
			retry.MaxDelay(8 * time.Second),
			retry.DelayType(retry.BackOffDelay),
			retry.RetryIf(retryable),
			retry.LastErrorOnly(true),
		}
	}
)

type retryCallback[T any] func(ctx context.Context) (T, error)

func withRetry[T any](ctx context.Context, callback retryCallback[T], opts ...retry.Option) (T, error) {
	var returnValue T
	var err error

	err = retry.Do(func() error {
		rctx, cancel := context.WithTimeout(ctx, retryContextTimeout)
		defer cancel()

		returnValue, err = callback(rctx)

		return err
	}, append(defaultRetryOpts(ctx), opts...)...)

	return returnValue, err
}
