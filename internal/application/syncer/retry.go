package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/slurrr/trade-journal/internal/domain"
)

// RetryPolicy acota los reintentos de descargas transitorias.
type RetryPolicy struct {
	Attempts  int           // intentos totales, incluido el primero, >= 1
	BaseDelay time.Duration // primera espera, se dobla con jitter
	MaxDelay  time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.MaxElapsedTime = 0 // lo acota Attempts

	attempts := max(p.Attempts, 1)
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// retryFetch espera al limiter del venue antes de cada intento y solo reintenta
// errores que envuelven domain.ErrTransient. Los throttled se cuentan en run.
func retryFetch[T any](
	ctx context.Context,
	limiter *rate.Limiter,
	policy RetryPolicy,
	run *domain.SyncRun,
	fetch func(context.Context) (T, error),
) (T, error) {
	op := func() (T, error) {
		var zero T
		if err := limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		out, err := fetch(ctx)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, domain.ErrThrottled) {
			run.Throttled++
		}
		if domain.IsTransient(err) {
			return zero, err
		}
		return zero, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("transient fetch error, retrying",
			"key", run.Key.String(),
			"wait", wait,
			"err", err,
		)
	}
	return backoff.RetryNotifyWithData(op, policy.backOff(ctx), notify)
}
