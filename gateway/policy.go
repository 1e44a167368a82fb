package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"checkout-service/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// policy runs a remote call with a per-attempt timeout, bounded exponential
// retries and a circuit breaker. An open breaker fails fast without retrying.
type policy struct {
	name    string
	timeout time.Duration
	retries uint64
	initial time.Duration
	max     time.Duration
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

func newPolicy(name string, cfg config.GatewayConfig, log *slog.Logger) *policy {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	breakerState.WithLabelValues(name).Set(0)
	return &policy{
		name:    name,
		timeout: cfg.Timeout,
		retries: cfg.MaxRetries,
		initial: cfg.InitialInterval,
		max:     cfg.MaxInterval,
		log:     log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			// caller cancellation and 4xx responses say nothing about the
			// remote side's health
			IsSuccessful: func(err error) bool {
				if errors.Is(err, context.Canceled) {
					return true
				}
				var se *StatusError
				if errors.As(err, &se) {
					return !se.Temporary()
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
				breakerState.WithLabelValues(name).Set(stateValue(to))
			},
		}),
	}
}

func (p *policy) do(ctx context.Context, call func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if p.initial > 0 {
		b.InitialInterval = p.initial
	}
	if p.max > 0 {
		b.MaxInterval = p.max
	}
	b.Multiplier = 1.6
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0

	op := func() error {
		_, err := p.breaker.Execute(func() (interface{}, error) {
			actx, cancel := p.attemptContext(ctx)
			defer cancel()
			return nil, call(actx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.log.Warn("gateway call failed, retrying", "operation", p.name, "err", err, "wait", wait)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, p.retries), ctx), notify)
	gatewayCalls.WithLabelValues(p.name, outcome(err)).Inc()
	return err
}

func (p *policy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var de *decodeError
	return !errors.As(err, &de)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "short_circuit"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
