package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/concord-chat/beacon/internal/presence"
)

// refreshOpTimeout bounds the batch refresh call issued on each tick.
const refreshOpTimeout = 2 * time.Second

// Periodic runs the presence refresh ticker: on each tick it collects every
// live (user_id, signing_pubkeys, active) triple returned by its liveUsers
// source (Handler.LiveUsers) and refreshes them in one batch, keeping the presence
// backend's TTL from expiring a connection that never disconnected.
//
// The refresh period must be strictly less than the presence TTL by at
// least one full period, so a single missed tick never evicts a live user.
type Periodic struct {
	liveUsers func() []presence.RefreshUser
	backend   presence.Backend
	ttl       time.Duration
	period    time.Duration
	logger    zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewPeriodic builds the refresh ticker. liveUsers returns a snapshot of
// every currently-announced presence user to re-refresh on each tick. If
// period is zero or would not leave at least one period of slack before ttl
// expires, it is clamped to ttl/3 (matching the ≈10s-refresh/≈30s-TTL ratio
// this design assumes).
func NewPeriodic(liveUsers func() []presence.RefreshUser, backend presence.Backend, ttl time.Duration, period time.Duration, logger zerolog.Logger) *Periodic {
	if period <= 0 || period*2 >= ttl {
		period = ttl / 3
		if period <= 0 {
			period = time.Second
		}
	}
	return &Periodic{
		liveUsers: liveUsers,
		backend:   backend,
		ttl:       ttl,
		period:    period,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Run blocks, ticking until Stop is called or ctx is cancelled.
func (p *Periodic) Run(ctx context.Context) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.refreshTick(ctx)
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the ticker loop. Safe to call more than once.
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Periodic) refreshTick(ctx context.Context) {
	users := p.liveUsers()
	if len(users) == 0 {
		return
	}

	refreshCtx, cancel := context.WithTimeout(ctx, refreshOpTimeout)
	defer cancel()

	if err := p.backend.Refresh(refreshCtx, users, p.ttl); err != nil {
		p.logger.Warn().Err(err).Int("users", len(users)).Msg("presence refresh failed, will retry next tick")
	}
}
