// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"math"
	"time"
)

// ─── Money ──────────────────────────────────────────────────────────────────

// Epsilon is the tolerance used when comparing two balances.
// Divergence within Epsilon is treated as equality.
const Epsilon = 0.01

// Round2 rounds a currency amount to 2 decimal places.
// Every amount crossing a store or service boundary must pass through here.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ValidGain reports whether v is acceptable as a production gain:
// strictly positive, finite, and not NaN.
func ValidGain(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ─── Subscription Tiers ─────────────────────────────────────────────────────

// Tier is a subscription tier. It controls the daily production quota,
// the per-session gain range, and the withdrawal threshold.
type Tier string

const (
	TierFreemium Tier = "freemium"
	TierStarter  Tier = "starter"
	TierGold     Tier = "gold"
	TierElite    Tier = "elite"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFreemium, TierStarter, TierGold, TierElite:
		return true
	}
	return false
}

// Metered reports whether the tier is rate-limited per manual session.
// Metered tiers carry a cooldown between manual sessions; gold and elite
// are only bounded by the daily quota.
func (t Tier) Metered() bool {
	return t == TierFreemium || t == TierStarter
}

// Tiers lists all tiers in ascending order of entitlement.
func Tiers() []Tier {
	return []Tier{TierFreemium, TierStarter, TierGold, TierElite}
}

// GainRange bounds the random gain produced by a single session.
type GainRange struct {
	Min float64 `toml:"min" json:"min"`
	Max float64 `toml:"max" json:"max"`
}

// ─── Account ────────────────────────────────────────────────────────────────

// Account identifies a user of the balance engine. The remote balance
// service owns the record; the engine only holds read-only snapshots.
type Account struct {
	ID             string    `json:"id"`
	Tier           Tier      `json:"subscription_tier"`
	RegisteredAt   time.Time `json:"registered_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// BalanceSnapshot is the remote service's view of an account's balance.
type BalanceSnapshot struct {
	Balance           float64 `json:"balance"`
	Tier              Tier    `json:"subscription_tier"`
	DailySessionCount int     `json:"daily_session_count"`
}

// ─── Transactions ───────────────────────────────────────────────────────────

// TransactionType is the business reason a balance changed.
type TransactionType string

const (
	TxManualSession TransactionType = "MANUAL_SESSION"
	TxAutoSession   TransactionType = "AUTO_SESSION"
	TxWithdrawal    TransactionType = "WITHDRAWAL"
	TxPenalty       TransactionType = "DORMANCY_PENALTY"
	TxReactivation  TransactionType = "REACTIVATION"
)

// Transaction is an immutable record of one balance change.
// Gain is signed: positive for production, negative for withdrawals
// and dormancy penalties.
type Transaction struct {
	ID     string          `json:"id"`
	Date   time.Time       `json:"date"`
	Gain   float64         `json:"gain"`
	Report string          `json:"report"`
	Type   TransactionType `json:"type"`
}

// ─── Quota ──────────────────────────────────────────────────────────────────

// QuotaStatus is the result of a daily-limit check.
type QuotaStatus struct {
	Limit          float64 `json:"limit"`
	Used           float64 `json:"used"`
	RemainingRatio float64 `json:"remaining_ratio"`
	Exceeded       bool    `json:"exceeded"`
}

// Headroom returns how much more may be produced today before hitting the
// full daily limit. Never negative.
func (q QuotaStatus) Headroom() float64 {
	h := q.Limit - q.Used
	if h < 0 {
		return 0
	}
	return Round2(h)
}

// ─── Dormancy ───────────────────────────────────────────────────────────────

// DormancyStage is the idle-account decay state machine position.
type DormancyStage int

const (
	StageActive    DormancyStage = iota // recent activity, no penalties
	StageWarned                         // 30+ days idle, first penalty
	StagePenalized                      // 60+ days idle, second penalty
	StageLocked                         // 90+ days idle, full forfeiture (terminal)
)

// String returns a human-readable stage name.
func (s DormancyStage) String() string {
	switch s {
	case StageActive:
		return "active"
	case StageWarned:
		return "warned"
	case StagePenalized:
		return "penalized"
	case StageLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Penalty is one staged dormancy deduction.
type Penalty struct {
	Stage  DormancyStage `json:"stage"`
	Ratio  float64       `json:"ratio"`  // fraction of the balance remaining when applied
	Amount float64       `json:"amount"` // absolute deduction, rounded to 2dp
}

// DormancyState is a derived, never-persisted view of an account's decay.
type DormancyState struct {
	IsDormant        bool          `json:"is_dormant"`
	Stage            DormancyStage `json:"stage"`
	DaysIdle         int           `json:"days_idle"`
	Penalties        []Penalty     `json:"penalties"`
	RemainingBalance float64       `json:"remaining_balance"`
}

// Locked reports whether the account has reached the terminal stage and
// all production must halt until reactivation.
func (d DormancyState) Locked() bool { return d.Stage == StageLocked }

// ─── Session Results ────────────────────────────────────────────────────────

// SessionResult reports the outcome of an accepted production session.
type SessionResult struct {
	GainAmount float64 `json:"gain_amount"`
	DailyGains float64 `json:"daily_gains"`
}
