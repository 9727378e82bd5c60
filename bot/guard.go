package bot

import (
	"context"
	"fmt"

	"github.com/rustyeddy/perps/risk"
)

// ErrCapitalShortage is returned by Commit when the balance re-read inside
// the critical section no longer covers the required margin.
var ErrCapitalShortage = risk.ErrCapitalShortage

// CapitalGuard serialises capital-committing work across the workers that
// share one account. It is a one-slot semaphore so a waiting worker can
// give up when its context ends.
type CapitalGuard struct {
	sem chan struct{}
}

func NewCapitalGuard() *CapitalGuard {
	return &CapitalGuard{sem: make(chan struct{}, 1)}
}

// Commit acquires the guard, re-reads the balance and runs submit only if
// the fresh balance still covers required.
func (g *CapitalGuard) Commit(
	ctx context.Context,
	required float64,
	balance func(ctx context.Context) (float64, error),
	submit func(ctx context.Context, balance float64) error,
) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	fresh, err := balance(ctx)
	if err != nil {
		return fmt.Errorf("re-read balance: %w", err)
	}
	if fresh < required {
		return fmt.Errorf("%w: need %.4f, have %.4f", ErrCapitalShortage, required, fresh)
	}
	return submit(ctx, fresh)
}
