// Package dormancy implements the idle-account decay state machine:
// active → warned (30d, −25%) → penalized (60d, −50% of the remainder)
// → locked (90d, full forfeiture, terminal until reactivation).
//
// The decision is split from the effect. Check is a pure function of
// (now, lastActivityAt, balance) and can be called any number of times;
// Sweep applies the outstanding penalties, guarded by persisted per-stage
// records so a repeated sweep can never double-charge.
package dormancy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/bus"
	"github.com/yieldloop/yieldloop/internal/infra/observability"
	"github.com/yieldloop/yieldloop/internal/infra/sqlite"
)

// StageRule is one decay stage: after Days idle, deduct Ratio of the
// balance remaining at that point.
type StageRule struct {
	Days  int     `toml:"days"`
	Ratio float64 `toml:"ratio"`
}

// DefaultStages returns the standard decay ladder.
func DefaultStages() []StageRule {
	return []StageRule{
		{Days: 30, Ratio: 0.25},
		{Days: 60, Ratio: 0.50},
		{Days: 90, Ratio: 1.00},
	}
}

// Config configures the dormancy engine.
type Config struct {
	// Stages is the decay ladder, ordered by Days ascending.
	Stages []StageRule

	// MonthlyPrices is each tier's notional monthly price; the
	// reactivation fee is FeeMultiplier times it.
	MonthlyPrices map[domain.Tier]float64

	// FeeMultiplier scales the monthly price into the reactivation fee.
	FeeMultiplier float64

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Stages: DefaultStages(),
		MonthlyPrices: map[domain.Tier]float64{
			domain.TierFreemium: 0,
			domain.TierStarter:  9.99,
			domain.TierGold:     29.99,
			domain.TierElite:    49.99,
		},
		FeeMultiplier: 3,
		Now:           time.Now,
	}
}

// ─── Pure Decision ──────────────────────────────────────────────────────────

// Compute derives the dormancy state from (now, lastActivityAt, balance).
// Penalties compound against the remaining balance, not the original:
// 100 idle for 61 days yields [25.00, 37.50] with 37.50 remaining.
// Pure and idempotent — calling it never mutates anything.
func Compute(now, lastActivityAt time.Time, balance float64, stages []StageRule) domain.DormancyState {
	state := domain.DormancyState{
		Stage:            domain.StageActive,
		RemainingBalance: domain.Round2(balance),
	}
	if lastActivityAt.IsZero() {
		return state
	}

	state.DaysIdle = int(now.Sub(lastActivityAt).Hours() / 24)
	remaining := balance
	for i, rule := range stages {
		if state.DaysIdle < rule.Days {
			break
		}
		amount := domain.Round2(remaining * rule.Ratio)
		state.Penalties = append(state.Penalties, domain.Penalty{
			Stage:  domain.DormancyStage(i + 1),
			Ratio:  rule.Ratio,
			Amount: amount,
		})
		remaining -= amount
		state.Stage = domain.DormancyStage(i + 1)
	}

	state.IsDormant = state.Stage != domain.StageActive
	state.RemainingBalance = domain.Round2(remaining)
	if state.RemainingBalance < 0 {
		state.RemainingBalance = 0
	}
	return state
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// Engine applies dormancy penalties and handles reactivation.
type Engine struct {
	cfg    Config
	remote domain.RemoteBalanceService
	ledger domain.LedgerStore
	guards *sqlite.DB
	bus    *bus.Bus
	log    *logrus.Logger
}

// New creates a dormancy engine. guards is the store holding the
// per-stage penalty records.
func New(cfg Config, remote domain.RemoteBalanceService, ledger domain.LedgerStore, guards *sqlite.DB, b *bus.Bus, log *logrus.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Stages == nil {
		cfg.Stages = def.Stages
	}
	if cfg.MonthlyPrices == nil {
		cfg.MonthlyPrices = def.MonthlyPrices
	}
	if cfg.FeeMultiplier <= 0 {
		cfg.FeeMultiplier = def.FeeMultiplier
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{cfg: cfg, remote: remote, ledger: ledger, guards: guards, bus: b, log: log}
}

// Check computes the account's decay state from the local balance.
// Side-effect free; safe to call on every scheduler tick.
func (e *Engine) Check(account domain.Account) domain.DormancyState {
	balance, _ := e.ledger.CurrentBalance(account.ID)
	return Compute(e.cfg.Now(), account.LastActivityAt, balance, e.cfg.Stages)
}

// Sweep applies any outstanding stage penalties for the account's current
// dormancy cycle. Each stage is charged at most once per cycle: the guard
// record is claimed before the effect, so a crash between the two leaves
// a skipped penalty rather than a doubled one. Returns the state that was
// computed, whether or not anything needed applying.
func (e *Engine) Sweep(ctx context.Context, account domain.Account) (domain.DormancyState, error) {
	state := e.Check(account)
	if !state.IsDormant {
		return state, nil
	}

	// Penalty amounts are defined against the balance at cycle start.
	// Stages already charged have shrunk the ledger balance, so add
	// them back before recomputing, otherwise a later stage in the
	// same cycle would be charged against an already-penalized base.
	cycle := account.LastActivityAt.Format(time.DateOnly)
	charged, err := e.guards.AppliedPenaltyTotal(account.ID, cycle)
	if err != nil {
		return state, fmt.Errorf("read charged penalties: %w", err)
	}
	if charged > 0 {
		balance, _ := e.ledger.CurrentBalance(account.ID)
		state = Compute(e.cfg.Now(), account.LastActivityAt, balance+charged, e.cfg.Stages)
	}
	for _, p := range state.Penalties {
		if p.Amount <= 0 {
			continue
		}
		claimed, err := e.guards.RecordPenalty(account.ID, int(p.Stage), cycle, p.Amount)
		if err != nil {
			return state, fmt.Errorf("claim penalty guard: %w", err)
		}
		if !claimed {
			continue // this stage was already charged for this cycle
		}
		if err := e.apply(ctx, account, p, state); err != nil {
			return state, err
		}
	}

	if state.Locked() {
		e.ledger.SetBotActive(account.ID, false)
		e.bus.Publish(bus.TopicBotState, bus.BotState{
			AccountID: account.ID,
			Active:    false,
			Reason:    "account dormancy-locked",
		})
	}
	return state, nil
}

// apply charges one stage penalty: a negative transaction plus an atomic
// balance decrement on the remote, then the local ledger update.
func (e *Engine) apply(ctx context.Context, account domain.Account, p domain.Penalty, state domain.DormancyState) error {
	tx := domain.Transaction{
		ID:     uuid.NewString(),
		Date:   e.cfg.Now(),
		Gain:   -p.Amount,
		Report: fmt.Sprintf("dormancy penalty stage %d (%.0f%% after %d days of inactivity)", p.Stage, p.Ratio*100, state.DaysIdle),
		Type:   domain.TxPenalty,
	}
	if err := e.remote.AppendTransaction(ctx, account.ID, tx); err != nil {
		observability.RemoteErrors.WithLabelValues("append_transaction").Inc()
		return fmt.Errorf("append penalty transaction: %w", err)
	}
	if _, err := e.remote.IncrementBalance(ctx, account.ID, -p.Amount); err != nil {
		observability.RemoteErrors.WithLabelValues("increment_balance").Inc()
		e.log.WithError(err).WithField("account", account.ID).
			Warn("dormancy: remote decrement failed, reconciliation will repair")
	}

	balance, _ := e.ledger.CurrentBalance(account.ID)
	balance = domain.Round2(balance - p.Amount)
	if balance < 0 {
		balance = 0
	}
	e.ledger.SetCurrentBalance(account.ID, balance)
	observability.DormancyPenalties.WithLabelValues(p.Stage.String()).Inc()
	observability.LocalBalance.Set(balance)

	e.bus.Publish(bus.TopicDormancy, bus.DormancyPenalty{
		AccountID: account.ID,
		Stage:     int(p.Stage),
		Amount:    p.Amount,
		Remaining: balance,
	})

	e.log.WithFields(logrus.Fields{
		"account": account.ID,
		"stage":   p.Stage.String(),
		"amount":  p.Amount,
	}).Info("dormancy: penalty applied")
	return nil
}

// ReactivationFee returns the fee for unlocking a dormant account.
func (e *Engine) ReactivationFee(tier domain.Tier) float64 {
	return domain.Round2(e.cfg.MonthlyPrices[tier] * e.cfg.FeeMultiplier)
}

// Reactivate unlocks a dormancy-locked account: records the fee, resets
// the remote last-activity timestamp, and re-permits production. The fee
// itself is collected by the external payment flow; here it is only
// recorded on the transaction history.
func (e *Engine) Reactivate(ctx context.Context, account domain.Account) (float64, error) {
	state := e.Check(account)
	if !state.Locked() {
		return 0, domain.ErrNotLocked
	}

	fee := e.ReactivationFee(account.Tier)
	tx := domain.Transaction{
		ID:     uuid.NewString(),
		Date:   e.cfg.Now(),
		Gain:   0,
		Report: fmt.Sprintf("account reactivated, fee %.2f charged via subscription", fee),
		Type:   domain.TxReactivation,
	}
	if err := e.remote.AppendTransaction(ctx, account.ID, tx); err != nil {
		observability.RemoteErrors.WithLabelValues("append_transaction").Inc()
		return 0, fmt.Errorf("append reactivation transaction: %w", err)
	}
	if err := e.remote.TouchActivity(ctx, account.ID); err != nil {
		observability.RemoteErrors.WithLabelValues("touch_activity").Inc()
		return 0, fmt.Errorf("reset activity: %w", err)
	}

	e.ledger.SetBotActive(account.ID, true)
	e.bus.Publish(bus.TopicBotState, bus.BotState{
		AccountID: account.ID,
		Active:    true,
		Reason:    "account reactivated",
	})

	e.log.WithFields(logrus.Fields{"account": account.ID, "fee": fee}).
		Info("dormancy: account reactivated")
	return fee, nil
}
