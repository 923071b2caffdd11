package ledger

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Sweeper periodically releases expired reservations.
type Sweeper struct {
	ledger   Ledger
	interval time.Duration
	now      func() time.Time

	// lastRun holds the unix nanos of the last successful sweep.
	lastRun atomic.Int64
}

// NewSweeper creates a Sweeper running every interval.
func NewSweeper(l Ledger, interval time.Duration) *Sweeper {
	return &Sweeper{ledger: l, interval: interval, now: time.Now}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	lg := zctx.From(ctx)

	now := s.now()
	n, err := s.ledger.ReleaseExpired(ctx, now)
	if err != nil {
		if ctx.Err() == nil {
			lg.Error("Release expired reservations", zap.Error(err))
		}
		return
	}
	s.lastRun.Store(now.UnixNano())
	if n > 0 {
		lg.Info("Released expired reservations", zap.Int("count", n))
	}
}

// LastRun returns the time of the last successful sweep, or the zero time.
func (s *Sweeper) LastRun() time.Time {
	ns := s.lastRun.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LagCheck returns a health check that fails when no sweep succeeded within
// maxLag.
func (s *Sweeper) LagCheck(maxLag time.Duration) func(context.Context) error {
	return func(context.Context) error {
		last := s.LastRun()
		if last.IsZero() {
			return errors.New("sweeper has not run yet")
		}
		if lag := s.now().Sub(last); lag > maxLag {
			return errors.Errorf("last sweep %s ago exceeds %s", lag.Round(time.Second), maxLag)
		}
		return nil
	}
}
