package producer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/observability"
	"github.com/yieldloop/yieldloop/internal/infra/quota"
)

// SessionConfig configures the manual session controller.
type SessionConfig struct {
	// Debounce ignores any invocation this soon after the previous
	// attempt, accepted or not.
	Debounce time.Duration

	// Cooldown is the minimum gap between accepted sessions for metered
	// tiers.
	Cooldown time.Duration

	// Gains maps each tier to its manual-session gain range. Manual
	// ranges are narrower than the automatic ones.
	Gains map[domain.Tier]domain.GainRange

	// Now is an injectable clock for testing.
	Now func() time.Time

	// Rand returns a uniform value in [0,1); injectable for testing.
	Rand func() float64
}

// DefaultSessionConfig returns production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Debounce: 2 * time.Second,
		Cooldown: 60 * time.Second,
		Gains:    DefaultManualGainRanges(),
		Now:      time.Now,
		Rand:     rand.Float64,
	}
}

// DefaultManualGainRanges returns the per-tier manual session gain table.
func DefaultManualGainRanges() map[domain.Tier]domain.GainRange {
	return map[domain.Tier]domain.GainRange{
		domain.TierFreemium: {Min: 0.05, Max: 0.12},
		domain.TierStarter:  {Min: 0.08, Max: 0.25},
		domain.TierGold:     {Min: 0.15, Max: 0.40},
		domain.TierElite:    {Min: 0.25, Max: 0.60},
	}
}

// Controller handles user-triggered sessions. It shares the commit path
// with the background scheduler but carries its own reentrancy lease,
// debounce, and per-tier cooldown.
type Controller struct {
	cfg      SessionConfig
	ledger   domain.LedgerStore
	quota    *quota.Engine
	dormancy DormancyChecker
	commit   *Committer
	log      *logrus.Logger
	lease    Lease

	mu          sync.Mutex
	lastAttempt time.Time
}

// NewController creates the manual session controller.
func NewController(cfg SessionConfig, ledger domain.LedgerStore, q *quota.Engine, d DormancyChecker, commit *Committer, log *logrus.Logger) *Controller {
	def := DefaultSessionConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
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
	return &Controller{cfg: cfg, ledger: ledger, quota: q, dormancy: d, commit: commit, log: log}
}

// StartSession runs one manual production session. Rejections come back
// as sentinel errors so the API layer can map them to user notices.
func (c *Controller) StartSession(ctx context.Context, account domain.Account) (domain.SessionResult, error) {
	now := c.cfg.Now()

	if !c.debounce(now) {
		observability.SessionsRejected.WithLabelValues("debounced").Inc()
		return domain.SessionResult{}, domain.ErrSessionDebounced
	}

	if c.dormancy.Check(account).Locked() {
		observability.SessionsRejected.WithLabelValues("dormancy_locked").Inc()
		return domain.SessionResult{}, domain.ErrDormancyLocked
	}

	if status := c.quota.Check(account); status.Exceeded {
		observability.SessionsRejected.WithLabelValues("quota_exceeded").Inc()
		return domain.SessionResult{}, domain.ErrQuotaExceeded
	}

	if account.Tier.Metered() {
		if last, ok := c.ledger.LastSessionAt(account.ID); ok {
			if now.Sub(time.Unix(last, 0)) < c.cfg.Cooldown {
				observability.SessionsRejected.WithLabelValues("cooldown").Inc()
				return domain.SessionResult{}, domain.ErrSessionCooldown
			}
		}
	}

	tok, ok := c.lease.TryAcquire()
	if !ok {
		observability.SessionsRejected.WithLabelValues("in_flight").Inc()
		return domain.SessionResult{}, domain.ErrSessionInFlight
	}
	defer c.lease.Release(tok)

	gain := c.quota.ClampGain(account, c.randomGain(account.Tier))
	if gain <= 0 {
		observability.SessionsRejected.WithLabelValues("no_headroom").Inc()
		return domain.SessionResult{}, domain.ErrQuotaExceeded
	}

	if _, err := c.commit.Commit(ctx, account, gain, "manual analysis session", domain.TxManualSession); err != nil {
		return domain.SessionResult{}, err
	}

	c.ledger.SetLastSessionAt(account.ID, now.Unix())
	c.ledger.SetDailySessionCount(account.ID, c.ledger.DailySessionCount(account.ID)+1)
	c.ledger.SetLastSessionDate(account.ID, now.Format(time.DateOnly))

	c.log.WithFields(logrus.Fields{"account": account.ID, "gain": gain}).
		Info("session: manual session produced")

	return domain.SessionResult{
		GainAmount: gain,
		DailyGains: c.ledger.DailyGains(account.ID),
	}, nil
}

// debounce records the attempt and reports whether it is far enough from
// the previous one. Every attempt moves the window, so rapid-fire clicks
// stay rejected until the caller pauses.
func (c *Controller) debounce(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.lastAttempt.IsZero() || now.Sub(c.lastAttempt) >= c.cfg.Debounce
	c.lastAttempt = now
	return ok
}

func (c *Controller) randomGain(tier domain.Tier) float64 {
	r, ok := c.cfg.Gains[tier]
	if !ok {
		r = c.cfg.Gains[domain.TierFreemium]
	}
	return domain.Round2(r.Min + c.cfg.Rand()*(r.Max-r.Min))
}
