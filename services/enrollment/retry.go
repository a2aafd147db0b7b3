package enrollment

import (
	"context"
	"time"

	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/db"
	"smallbiznis-academy/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type retryPolicy struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
}

func newRetryPolicy(cfg *config.Config) retryPolicy {
	p := retryPolicy{maxAttempts: 4, initial: 20 * time.Millisecond, max: 250 * time.Millisecond}
	if cfg == nil {
		return p
	}
	if cfg.Enrollment.MaxAttempts > 0 {
		p.maxAttempts = cfg.Enrollment.MaxAttempts
	}
	if cfg.Enrollment.InitialBackoff > 0 {
		p.initial = cfg.Enrollment.InitialBackoff
	}
	if cfg.Enrollment.MaxBackoff > 0 {
		p.max = cfg.Enrollment.MaxBackoff
	}
	return p
}

// run retries op on write conflicts with jittered exponential backoff. Any other
// error ends the loop at once. When every attempt conflicts the last conflict is returned.
func (p retryPolicy) run(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.MaxInterval = p.max
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if db.IsWriteConflict(err) {
			conflicts.Inc()
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxAttempts-1)), ctx), func(err error, wait time.Duration) {
		logger.FromContext(ctx).Debug("write conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}
