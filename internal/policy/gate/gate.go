// Package gate bounds how many browser-backed calls run at once.
package gate

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting permit pool of fixed size. Create one per job.
type Gate struct {
	size int64
	sem  *semaphore.Weighted
}

// New returns a Gate with n permits. Values below one are raised to one.
func New(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{size: int64(n), sem: semaphore.NewWeighted(int64(n))}
}

// Size reports the number of permits.
func (g *Gate) Size() int {
	return int(g.size)
}

// Acquire blocks until a permit is free or ctx ends.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("gate acquire canceled: %w", err)
	}
	return nil
}

// Release returns a permit.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Do runs fn while holding a permit. The permit is released on every return
// path, including panics in fn.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}
