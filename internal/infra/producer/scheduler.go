package producer

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/observability"
	"github.com/yieldloop/yieldloop/internal/infra/quota"
)

// DormancyChecker reports an account's decay state without side effects.
// *dormancy.Engine satisfies it.
type DormancyChecker interface {
	Check(account domain.Account) domain.DormancyState
}

// SchedulerConfig configures the background production scheduler.
type SchedulerConfig struct {
	// WarmupDelay is the pause before the first tick after activation.
	WarmupDelay time.Duration

	// IntervalMin/IntervalMax bound the randomized gap between ticks.
	// The jitter is deliberate: a perfectly regular cadence would look
	// manufactured on the transaction history.
	IntervalMin time.Duration
	IntervalMax time.Duration

	// Gains maps each tier to its automatic-session gain range.
	Gains map[domain.Tier]domain.GainRange

	// Now is an injectable clock for testing.
	Now func() time.Time

	// Rand returns a uniform value in [0,1); injectable for testing.
	Rand func() float64
}

// DefaultSchedulerConfig returns production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WarmupDelay: 10 * time.Second,
		IntervalMin: 2 * time.Minute,
		IntervalMax: 3 * time.Minute,
		Gains:       DefaultAutoGainRanges(),
		Now:         time.Now,
		Rand:        rand.Float64,
	}
}

// DefaultAutoGainRanges returns the per-tier automatic session gain table.
func DefaultAutoGainRanges() map[domain.Tier]domain.GainRange {
	return map[domain.Tier]domain.GainRange{
		domain.TierFreemium: {Min: 0.05, Max: 0.15},
		domain.TierStarter:  {Min: 0.10, Max: 0.30},
		domain.TierGold:     {Min: 0.20, Max: 0.50},
		domain.TierElite:    {Min: 0.30, Max: 0.70},
	}
}

// Scheduler is the timer-driven background producer. It runs only while
// the account's bot flag is on and the account is not dormancy-locked,
// and it never produces past the daily quota.
type Scheduler struct {
	cfg      SchedulerConfig
	auth     domain.AuthSession
	ledger   domain.LedgerStore
	quota    *quota.Engine
	dormancy DormancyChecker
	commit   *Committer
	log      *logrus.Logger
	lease    Lease
}

// NewScheduler creates the background production scheduler.
func NewScheduler(cfg SchedulerConfig, auth domain.AuthSession, ledger domain.LedgerStore, q *quota.Engine, d DormancyChecker, commit *Committer, log *logrus.Logger) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.WarmupDelay <= 0 {
		cfg.WarmupDelay = def.WarmupDelay
	}
	if cfg.IntervalMin <= 0 || cfg.IntervalMax < cfg.IntervalMin {
		cfg.IntervalMin, cfg.IntervalMax = def.IntervalMin, def.IntervalMax
	}
	if cfg.Gains == nil {
		cfg.Gains = def.Gains
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	return &Scheduler{cfg: cfg, auth: auth, ledger: ledger, quota: q, dormancy: d, commit: commit, log: log}
}

// Run produces on randomized intervals until ctx is cancelled. The first
// tick fires after the warm-up delay.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.cfg.WarmupDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopping")
			return
		case <-timer.C:
			s.Tick(ctx)
			timer.Reset(s.nextInterval())
		}
	}
}

// nextInterval picks a random gap in [IntervalMin, IntervalMax].
func (s *Scheduler) nextInterval() time.Duration {
	span := s.cfg.IntervalMax - s.cfg.IntervalMin
	return s.cfg.IntervalMin + time.Duration(s.cfg.Rand()*float64(span))
}

// Tick attempts one automatic production. A tick that fires while a
// previous one is still committing is dropped, not queued. Skips are
// silent by design: the interval continues regardless.
func (s *Scheduler) Tick(ctx context.Context) {
	account, ok := s.auth.Current(ctx)
	if !ok {
		observability.TicksSkipped.WithLabelValues("unauthenticated").Inc()
		return
	}
	if !s.ledger.BotActive(account.ID) {
		observability.TicksSkipped.WithLabelValues("bot_inactive").Inc()
		return
	}
	if s.dormancy.Check(account).Locked() {
		observability.TicksSkipped.WithLabelValues("dormancy_locked").Inc()
		return
	}
	if status := s.quota.Check(account); status.Exceeded {
		observability.TicksSkipped.WithLabelValues("quota_exceeded").Inc()
		return
	}

	tok, ok := s.lease.TryAcquire()
	if !ok {
		observability.TicksSkipped.WithLabelValues("overlapping_tick").Inc()
		return
	}
	defer s.lease.Release(tok)

	gain := s.quota.ClampGain(account, s.randomGain(account.Tier))
	if gain <= 0 {
		observability.TicksSkipped.WithLabelValues("no_headroom").Inc()
		return
	}

	if _, err := s.commit.Commit(ctx, account, gain, "automated analysis session", domain.TxAutoSession); err != nil {
		// Non-fatal: surface nothing to the user beyond the log, keep the
		// interval going.
		s.log.WithError(err).WithField("account", account.ID).
			Warn("scheduler: commit failed, continuing on next interval")
		return
	}

	s.log.WithFields(logrus.Fields{"account": account.ID, "gain": gain}).
		Debug("scheduler: automatic session produced")
}

// randomGain draws a gain from the tier's configured range.
func (s *Scheduler) randomGain(tier domain.Tier) float64 {
	r, ok := s.cfg.Gains[tier]
	if !ok {
		r = s.cfg.Gains[domain.TierFreemium]
	}
	return domain.Round2(r.Min + s.cfg.Rand()*(r.Max-r.Min))
}
