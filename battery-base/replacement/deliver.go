package replacement

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
)

// deliver calls send until it gets an answer. Only ErrUnreachable failures are
// retried; every attempt carries the same request, so the receiver can dedup.
func deliver[T any](ctx context.Context, cfg Config, what string, send func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryInitial
	b.MaxInterval = cfg.RetryMax
	b.MaxElapsedTime = cfg.DeliveryTimeout

	return backoff.RetryNotifyWithData(
		func() (T, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()

			v, err := send(attemptCtx)
			if err != nil && !errors.Is(err, ErrUnreachable) {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			log.Warn("delivery failed, retrying", "message", what, "error", err, "retry", next)
		},
	)
}
