package capability

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hupe1980/concierge/logging"
)

// RetryOptions bound the attempts WithRetry makes.
type RetryOptions struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          logging.Logger
}

type retrying struct {
	Capability
	opts RetryOptions
}

// WithRetry wraps c so that retryable failures (see IsRetryable) are repeated
// with exponential backoff, at most MaxAttempts times in total. Other errors
// return immediately.
func WithRetry(c Capability, optFns ...func(o *RetryOptions)) Capability {
	opts := RetryOptions{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 1
	}
	return &retrying{Capability: c, opts: opts}
}

func (r *retrying) Invoke(ctx context.Context, args map[string]any) (string, error) {
	attempt := 0
	op := func() (string, error) {
		attempt++
		out, err := r.Capability.Invoke(ctx, args)
		if err != nil && !IsRetryable(err) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialInterval
	b.MaxInterval = r.opts.MaxInterval

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.opts.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.opts.Logger.Warn("capability.call.retry",
				"capability", r.Name(),
				"attempt", attempt,
				"next_in_ms", next.Milliseconds(),
				"error", err.Error(),
			)
		}),
	)
}
