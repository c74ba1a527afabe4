package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cexll/agentcore/pkg/model"
)

// Retry bounds how transient backend failures are retried.
type Retry struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetry is three retries starting at 2s, capped at 30s.
var DefaultRetry = Retry{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}

func (r Retry) policy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultRetry.BaseDelay
	}
	b.MaxInterval = r.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultRetry.MaxDelay
	}
	b.Multiplier = 2
	return b
}

// send calls backend, retrying only failures classified transient. The
// returned attempts count includes the first call.
func (r Retry) send(ctx context.Context, backend model.Backend, req model.Request, logger *slog.Logger) (*model.Response, int, error) {
	attempts := 0
	op := func() (*model.Response, error) {
		attempts++
		resp, err := backend.Send(ctx, req)
		if err == nil {
			if resp == nil {
				return nil, backoff.Permanent(model.Permanent(backend.Name(), errors.New("empty response")))
			}
			return resp, nil
		}
		if ctx.Err() != nil || !model.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	maxRetries := r.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.policy()),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("backend request failed, retrying", "backend", backend.Name(), "attempt", attempts, "wait", wait, "error", err)
		}),
	)
	if err != nil && ctx.Err() != nil {
		return nil, attempts, ctx.Err()
	}
	return resp, attempts, err
}
