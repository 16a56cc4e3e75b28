package replication

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrRetryable marks an error as transient. Wrapping an error with it
// makes the Retryer try again after a backoff interval.
var ErrRetryable = errors.New("retryable replication error")

// Retryer runs a function until it succeeds, returns a non-retryable
// error, or the context is canceled. Each retry waits interval scaled
// by backoffCoeff to the power of the attempt count.
type Retryer struct {
	retryFunc    func(ctx context.Context) error
	interval     time.Duration
	backoffCoeff int
}

func NewRetryer(retryFunc func(ctx context.Context) error, interval time.Duration, backoffCoeff int) *Retryer {
	return &Retryer{
		retryFunc:    retryFunc,
		interval:     interval,
		backoffCoeff: backoffCoeff,
	}
}

func (r *Retryer) Run(ctx context.Context) error {
	for cnt := 0; ; cnt++ {
		err := r.retryFunc(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRetryable) {
			return err
		}

		interval := retryInterval(r.interval, r.backoffCoeff, cnt)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func retryInterval(interval time.Duration, backoffCoeff, retryCount int) time.Duration {
	coeff := math.Pow(float64(backoffCoeff), float64(retryCount))
	return time.Duration(float64(interval.Milliseconds())*coeff) * time.Millisecond
}
