package backend

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blinds-controller/internal/datadog"
)

// Retrier repeats an operation until it succeeds. Each round is a bounded
// exponential backoff; when a round gives up the degraded callback fires and
// a new round starts.
type Retrier struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
}

func (r *Retrier) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Initial
	b.MaxInterval = r.Max
	b.MaxElapsedTime = r.MaxElapsed
	return b
}

// Do returns nil once op succeeds, or ctx's error once ctx is done.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error, degraded func(err error)) error {
	for round := 1; ; round++ {
		b := backoff.WithContext(r.newBackOff(), ctx)
		attempts := 0
		err := backoff.RetryNotify(func() error {
			attempts++
			return op(ctx)
		}, b, func(err error, wait time.Duration) {
			datadog.Count("backend.retry", 1, "op:"+name)
			if attempts == 1 {
				log.Debug().Err(err).Str("op", name).Dur("wait", wait).Msg("Backend call failed, retrying")
			}
		})
		if err == nil {
			if round > 1 {
				log.Info().Str("op", name).Int("round", round).Msg("Backend call recovered")
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn().Err(err).Str("op", name).Int("round", round).Int("attempts", attempts).Msg("Backend call degraded")
		datadog.Count("backend.degraded", 1, "op:"+name)
		if degraded != nil {
			degraded(err)
		}
	}
}
