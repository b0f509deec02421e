package broker

import (
	"context"
	"log/slog"
	"time"
)

// PacingInterval is the minimum gap between historical-data requests on one
// session. The gateway only penalises sub-minute bar sizes, but the interval
// is applied uniformly for simplicity and safety.
const PacingInterval = 500 * time.Millisecond

// PacingGovernor enforces the minimum inter-call interval before any
// rate-limited historical-data request. It must wrap every historical-bar
// request, not market-data subscriptions.
type PacingGovernor struct {
	interval time.Duration
	lastCall time.Time
	log      *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacingGovernor creates a governor with the standard interval. lastCall
// is backdated so the very first request is never throttled.
func NewPacingGovernor(log *slog.Logger) *PacingGovernor {
	return newPacingGovernor(log, PacingInterval)
}

func newPacingGovernor(log *slog.Logger, interval time.Duration) *PacingGovernor {
	g := &PacingGovernor{
		interval: interval,
		log:      log.With("component", "pacing"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	g.lastCall = g.now().Add(-interval)
	return g
}

// Throttle waits cooperatively until the interval has elapsed since the last
// governed call, logging a single notice per wait period with the remaining
// seconds.
func (g *PacingGovernor) Throttle(ctx context.Context) error {
	notified := false
	for {
		remaining := g.interval - g.now().Sub(g.lastCall)
		if remaining <= 0 {
			return nil
		}
		if !notified {
			g.log.Info("pausing to avoid pacing violation", "seconds", remaining.Seconds())
			notified = true
		}
		wait := remaining
		if wait > 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// MarkCall records the completion of a governed call; it must be invoked
// immediately after the gated request returns.
func (g *PacingGovernor) MarkCall() {
	g.lastCall = g.now()
}
