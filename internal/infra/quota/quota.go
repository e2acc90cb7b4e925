// Package quota implements daily production limit enforcement.
//
// A tier's daily limit bounds how much the balance may grow per calendar
// day, not in total. The engine cuts production off at 90% of the limit to
// leave headroom against overshoot from gains already in flight, persists
// a date-keyed marker so a restart cannot re-permit production, and resets
// the accumulators when the date rolls over.
package quota

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/bus"
	"github.com/yieldloop/yieldloop/internal/infra/observability"
)

// CutoffRatio is the fraction of the daily limit at which production is
// pre-emptively halted.
const CutoffRatio = 0.9

// Config configures the quota engine.
type Config struct {
	// Limits maps each tier to its daily production limit.
	Limits map[domain.Tier]float64

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultLimits returns the unified daily-limit table.
func DefaultLimits() map[domain.Tier]float64 {
	return map[domain.Tier]float64{
		domain.TierFreemium: 0.5,
		domain.TierStarter:  5,
		domain.TierGold:     20,
		domain.TierElite:    50,
	}
}

// Engine decides whether further production is permitted.
type Engine struct {
	cfg    Config
	ledger domain.LedgerStore
	bus    *bus.Bus
	log    *logrus.Logger
}

// New creates a quota engine.
func New(cfg Config, ledger domain.LedgerStore, b *bus.Bus, log *logrus.Logger) *Engine {
	if cfg.Limits == nil {
		cfg.Limits = DefaultLimits()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{cfg: cfg, ledger: ledger, bus: b, log: log}
}

// Limit returns the daily limit for a tier. Unknown tiers fall back to
// the freemium limit, the most restrictive.
func (e *Engine) Limit(tier domain.Tier) float64 {
	if l, ok := e.cfg.Limits[tier]; ok {
		return l
	}
	return e.cfg.Limits[domain.TierFreemium]
}

// Check computes the quota status from today's gains only. The account's
// tier is taken from the passed account snapshot, which callers re-read
// from the remote — the payment webhook can change it at any time.
//
// On the false→true cutoff transition, Check flips the bot flag off,
// persists the date-keyed marker, and publishes a daily-limit event.
func (e *Engine) Check(account domain.Account) domain.QuotaStatus {
	limit := e.Limit(account.Tier)
	used := e.ledger.DailyGains(account.ID)
	today := e.today()

	status := domain.QuotaStatus{
		Limit: limit,
		Used:  used,
	}
	if limit > 0 {
		status.RemainingRatio = (limit - used) / limit
		if status.RemainingRatio < 0 {
			status.RemainingRatio = 0
		}
	}

	marked := e.ledger.DailyLimitReached(account.ID, today)
	status.Exceeded = marked || used >= limit*CutoffRatio

	if status.Exceeded && !marked {
		// First observation of the cutoff today: perform the transition.
		e.ledger.MarkDailyLimitReached(account.ID, today)
		e.ledger.SetBotActive(account.ID, false)
		observability.QuotaTrips.WithLabelValues(string(account.Tier)).Inc()

		e.bus.Publish(bus.TopicDailyLimit, bus.DailyLimitReached{
			AccountID:    account.ID,
			Subscription: string(account.Tier),
			Limit:        limit,
			CurrentGains: used,
		})
		e.bus.Publish(bus.TopicBotState, bus.BotState{
			AccountID: account.ID,
			Active:    false,
			Reason:    "daily limit reached",
		})

		e.log.WithFields(logrus.Fields{
			"account": account.ID,
			"tier":    account.Tier,
			"gains":   used,
			"limit":   limit,
		}).Info("quota: daily limit reached, production halted")
	}

	return status
}

// ClampGain bounds a candidate gain so the commit can never push today's
// gains above the full daily limit. Commits are clamped, never rejected,
// while some headroom remains; a zero return means no headroom.
func (e *Engine) ClampGain(account domain.Account, gain float64) float64 {
	headroom := domain.QuotaStatus{
		Limit: e.Limit(account.Tier),
		Used:  e.ledger.DailyGains(account.ID),
	}.Headroom()
	if gain > headroom {
		gain = headroom
	}
	return domain.Round2(gain)
}

// RolloverIfNewDay resets the daily accumulators when the calendar date
// has advanced past the last recorded session date. Called on startup and
// by the midnight housekeeping tick. Returns true if a rollover happened.
func (e *Engine) RolloverIfNewDay(accountID string) bool {
	today := e.today()
	last := e.ledger.LastSessionDate(accountID)
	if last == today {
		return false
	}

	e.ledger.SetDailyGains(accountID, 0)
	e.ledger.SetDailySessionCount(accountID, 0)
	e.ledger.SetLastSessionDate(accountID, today)

	// If yesterday's (or any previous day's) cutoff forced the bot off,
	// the new day re-permits it. An explicit user opt-out is keyed the
	// same way, so the flag only flips back when a limit marker exists
	// for the previous recorded date.
	if last != "" && e.ledger.DailyLimitReached(accountID, last) {
		e.ledger.SetBotActive(accountID, true)
		e.bus.Publish(bus.TopicBotState, bus.BotState{
			AccountID: accountID,
			Active:    true,
			Reason:    "daily limit reset",
		})
	}

	e.log.WithFields(logrus.Fields{"account": accountID, "date": today}).
		Info("quota: daily accumulators reset")
	return true
}

func (e *Engine) today() string {
	return e.cfg.Now().Format(time.DateOnly)
}
