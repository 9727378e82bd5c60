package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapitalGuardRechecksInsideSection(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		balance   = 1000.0
		committed int
	)
	read := func(ctx context.Context) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		return balance, nil
	}
	spend := func(ctx context.Context, fresh float64) error {
		mu.Lock()
		defer mu.Unlock()
		balance -= 600
		committed++
		return nil
	}

	g := NewCapitalGuard()
	var ready sync.WaitGroup
	ready.Add(2)
	errs := make([]error, 2)

	var done sync.WaitGroup
	for i := range 2 {
		done.Add(1)
		go func() {
			defer done.Done()
			// both see 1000 before either commits
			b, _ := read(context.Background())
			assert.Equal(t, 1000.0, b)
			ready.Done()
			ready.Wait()
			errs[i] = g.Commit(context.Background(), 600, read, spend)
		}()
	}
	done.Wait()

	assert.Equal(t, 1, committed)
	assert.Equal(t, 400.0, balance)

	var shortages int
	for _, err := range errs {
		if errors.Is(err, ErrCapitalShortage) {
			shortages++
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, shortages)
}

func TestCapitalGuardBalanceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	g := NewCapitalGuard()
	err := g.Commit(context.Background(), 1,
		func(ctx context.Context) (float64, error) { return 0, boom },
		func(ctx context.Context, fresh float64) error {
			t.Fatal("submit must not run")
			return nil
		})
	assert.ErrorIs(t, err, boom)
}

func TestCapitalGuardContextWhileWaiting(t *testing.T) {
	t.Parallel()

	g := NewCapitalGuard()
	hold := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_ = g.Commit(context.Background(), 0,
			func(ctx context.Context) (float64, error) { return 1, nil },
			func(ctx context.Context, fresh float64) error {
				close(entered)
				<-hold
				return nil
			})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Commit(ctx, 0,
		func(ctx context.Context) (float64, error) { return 1, nil },
		func(ctx context.Context, fresh float64) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(hold)
}
