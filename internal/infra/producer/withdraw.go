package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/bus"
	"github.com/yieldloop/yieldloop/internal/infra/observability"
)

// WithdrawConfig configures the withdrawal path.
type WithdrawConfig struct {
	// Thresholds maps each tier to the minimum balance required before a
	// withdrawal is accepted.
	Thresholds map[domain.Tier]float64

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultWithdrawThresholds returns the per-tier withdrawal thresholds.
// Higher tiers unlock withdrawals at lower balances.
func DefaultWithdrawThresholds() map[domain.Tier]float64 {
	return map[domain.Tier]float64{
		domain.TierFreemium: 200,
		domain.TierStarter:  150,
		domain.TierGold:     100,
		domain.TierElite:    50,
	}
}

// Withdrawer resets the balance to zero and records the payout as a
// negative transaction. This is one of the two legitimate decreasing
// paths (the other is the dormancy penalty).
type Withdrawer struct {
	cfg    WithdrawConfig
	remote domain.RemoteBalanceService
	ledger domain.LedgerStore
	cache  TransactionCache
	bus    *bus.Bus
	log    *logrus.Logger
}

// NewWithdrawer wires the withdrawal path.
func NewWithdrawer(cfg WithdrawConfig, remote domain.RemoteBalanceService, ledger domain.LedgerStore, cache TransactionCache, b *bus.Bus, log *logrus.Logger) *Withdrawer {
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultWithdrawThresholds()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Withdrawer{cfg: cfg, remote: remote, ledger: ledger, cache: cache, bus: b, log: log}
}

// Threshold returns the minimum withdrawable balance for a tier.
func (w *Withdrawer) Threshold(tier domain.Tier) float64 {
	if t, ok := w.cfg.Thresholds[tier]; ok {
		return t
	}
	return w.cfg.Thresholds[domain.TierFreemium]
}

// Withdraw pays out the full balance. The balance must meet the tier's
// threshold. Returns the amount withdrawn.
func (w *Withdrawer) Withdraw(ctx context.Context, account domain.Account) (float64, error) {
	balance, ok := w.ledger.CurrentBalance(account.ID)
	if !ok {
		snap, err := w.remote.GetBalance(ctx, account.ID)
		if err != nil {
			observability.RemoteErrors.WithLabelValues("get_balance").Inc()
			return 0, fmt.Errorf("read balance: %w", err)
		}
		balance = snap.Balance
	}
	balance = domain.Round2(balance)

	if balance <= 0 {
		return 0, domain.ErrNothingToWithdraw
	}
	if balance < w.Threshold(account.Tier) {
		return 0, domain.ErrBelowWithdrawalThreshold
	}

	tx := domain.Transaction{
		ID:     uuid.NewString(),
		Date:   w.cfg.Now(),
		Gain:   -balance,
		Report: fmt.Sprintf("withdrawal of %.2f", balance),
		Type:   domain.TxWithdrawal,
	}
	if err := w.remote.AppendTransaction(ctx, account.ID, tx); err != nil {
		observability.RemoteErrors.WithLabelValues("append_transaction").Inc()
		return 0, fmt.Errorf("append withdrawal transaction: %w", err)
	}
	if err := w.remote.SetBalance(ctx, account.ID, 0); err != nil {
		observability.RemoteErrors.WithLabelValues("set_balance").Inc()
		return 0, fmt.Errorf("reset remote balance: %w", err)
	}

	w.ledger.SetCurrentBalance(account.ID, 0)
	w.cache.CacheTransaction(account.ID, tx)
	observability.CommitsTotal.WithLabelValues(string(domain.TxWithdrawal)).Inc()
	observability.LocalBalance.Set(0)

	w.bus.Publish(bus.TopicBalanceUpdate, bus.BalanceUpdate{
		AccountID: account.ID,
		Amount:    -balance,
		Balance:   0,
		Animate:   false,
	})

	w.log.WithFields(logrus.Fields{"account": account.ID, "amount": balance}).
		Info("withdraw: balance paid out")
	return balance, nil
}
