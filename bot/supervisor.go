package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/perps/metrics"
)

// Runner is one supervised symbol loop. *Worker implements it.
type Runner interface {
	Symbol() string
	Init(ctx context.Context)
	RunOnce(ctx context.Context) (Cycle, error)
}

type SupervisorConfig struct {
	PollInterval  time.Duration
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	StartStagger  time.Duration
}

// Supervisor runs one goroutine per symbol. A failing or panicking cycle
// only delays its own symbol; the loops stop when the context ends.
type Supervisor struct {
	cfg     SupervisorConfig
	runners []Runner
	log     *zap.Logger

	// OnCycle, when set, is called after every cycle.
	OnCycle func(symbol string, c Cycle, err error)
}

func NewSupervisor(cfg SupervisorConfig, log *zap.Logger, runners ...Runner) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	return &Supervisor{cfg: cfg, runners: runners, log: log.Named("supervisor")}
}

// Run blocks until ctx is cancelled and every loop has returned.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.log.Info("starting workers",
		zap.Int("symbols", len(s.runners)),
		zap.Duration("interval", s.cfg.PollInterval))

	for i, r := range s.runners {
		delay := time.Duration(i) * s.cfg.StartStagger
		g.Go(func() error {
			s.loop(gctx, r, delay)
			return nil
		})
	}

	err := g.Wait()
	s.log.Info("workers stopped")
	return err
}

func (s *Supervisor) loop(ctx context.Context, r Runner, delay time.Duration) {
	log := s.log.With(zap.String("symbol", r.Symbol()))
	if !sleep(ctx, delay) {
		return
	}

	r.Init(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryDelay
	bo.MaxInterval = s.cfg.MaxRetryDelay

	for {
		start := time.Now()
		c, err := s.cycle(ctx, r)
		elapsed := time.Since(start)

		if ctx.Err() != nil {
			return
		}
		if s.OnCycle != nil {
			s.OnCycle(r.Symbol(), c, err)
		}

		var wait time.Duration
		if err != nil {
			wait = bo.NextBackOff()
			metrics.ObserveCycle(r.Symbol(), "error", elapsed.Seconds())
			log.Error("cycle failed",
				zap.String("cycle_id", c.ID),
				zap.Duration("retry_in", wait),
				zap.Error(err))
		} else {
			bo.Reset()
			wait = max(s.cfg.PollInterval-elapsed, 0)
			metrics.ObserveCycle(r.Symbol(), string(c.Action), elapsed.Seconds())
			log.Debug("cycle done",
				zap.String("cycle_id", c.ID),
				zap.String("action", string(c.Action)),
				zap.Float64("probability", c.Probability),
				zap.Duration("elapsed", elapsed))
		}

		if !sleep(ctx, wait) {
			return
		}
	}
}

// cycle turns a panic inside a worker into an error so the loop survives.
func (s *Supervisor) cycle(ctx context.Context, r Runner) (c Cycle, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("cycle panic",
				zap.String("symbol", r.Symbol()),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic in %s cycle: %v", r.Symbol(), rec)
		}
	}()
	return r.RunOnce(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
