// Package retry wraps fallible upstream calls with a fixed attempt budget.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// DefaultMaxAttempts is the attempt budget for chapter image lookups.
const DefaultMaxAttempts = 5

// Policy runs an operation up to MaxAttempts times with a fixed Delay between
// attempts. The first success wins; after MaxAttempts failures the most recent
// error is returned.
type Policy struct {
	MaxAttempts uint
	Delay       time.Duration
}

// Default returns the immediate five-attempt policy.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts}
}

func (p Policy) attempts() uint {
	if p.MaxAttempts == 0 {
		// retry-go treats zero as "until success".
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) options(ctx context.Context) []retrygo.Option {
	return []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(p.attempts()),
		retrygo.Delay(p.Delay),
		retrygo.DelayType(retrygo.FixedDelay),
		retrygo.LastErrorOnly(true),
	}
}

// Run invokes op until it succeeds or the budget is spent.
func (p Policy) Run(ctx context.Context, op func(context.Context) error) error {
	_, _, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do invokes op until it succeeds or the budget is spent, returning the value
// of the successful call together with the number of invocations made.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, int, error) {
	attempts := 0
	value, err := retrygo.DoWithData(func() (T, error) {
		attempts++
		return op(ctx)
	}, p.options(ctx)...)
	return value, attempts, err
}
