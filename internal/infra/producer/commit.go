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
	"github.com/yieldloop/yieldloop/internal/infra/quota"
)

// TransactionCache is the local display cache for committed transactions.
// *ledger.Store satisfies it.
type TransactionCache interface {
	CacheTransaction(accountID string, tx domain.Transaction)
}

// Committer is the single path through which production gains become
// durable. Both the background scheduler and the manual session
// controller commit through here.
type Committer struct {
	remote domain.RemoteBalanceService
	ledger domain.LedgerStore
	cache  TransactionCache
	quota  *quota.Engine
	bus    *bus.Bus
	log    *logrus.Logger
	now    func() time.Time
}

// NewCommitter wires the shared commit step.
func NewCommitter(remote domain.RemoteBalanceService, ledger domain.LedgerStore, cache TransactionCache, q *quota.Engine, b *bus.Bus, log *logrus.Logger, now func() time.Time) *Committer {
	if now == nil {
		now = time.Now
	}
	return &Committer{remote: remote, ledger: ledger, cache: cache, quota: q, bus: b, log: log, now: now}
}

// Commit records a strictly positive gain: appends the transaction to the
// remote service, pushes the delta through the remote's atomic increment,
// updates the local ledger, publishes a balance event, and re-runs the
// quota check. The ledger is durable before the event is published.
func (c *Committer) Commit(ctx context.Context, account domain.Account, gain float64, report string, txType domain.TransactionType) (domain.Transaction, error) {
	gain = domain.Round2(gain)
	if !domain.ValidGain(gain) {
		return domain.Transaction{}, fmt.Errorf("%w: %v", domain.ErrInvalidGain, gain)
	}

	tx := domain.Transaction{
		ID:     uuid.NewString(),
		Date:   c.now(),
		Gain:   gain,
		Report: report,
		Type:   txType,
	}

	if err := c.remote.AppendTransaction(ctx, account.ID, tx); err != nil {
		observability.RemoteErrors.WithLabelValues("append_transaction").Inc()
		return domain.Transaction{}, fmt.Errorf("append transaction: %w", err)
	}

	if _, err := c.remote.IncrementBalance(ctx, account.ID, gain); err != nil {
		// The transaction is recorded but the balance increment failed.
		// Keep the local update; the reconciliation engine repairs the
		// remote on its next pass.
		observability.RemoteErrors.WithLabelValues("increment_balance").Inc()
		c.log.WithError(err).WithField("account", account.ID).
			Warn("commit: remote increment failed, reconciliation will repair")
	}

	balance := c.applyLocal(account.ID, gain)
	c.cache.CacheTransaction(account.ID, tx)

	observability.CommitsTotal.WithLabelValues(string(txType)).Inc()
	observability.GainsProduced.WithLabelValues(string(txType)).Add(gain)

	c.bus.Publish(bus.TopicBalanceUpdate, bus.BalanceUpdate{
		AccountID: account.ID,
		Amount:    gain,
		Balance:   balance,
		Animate:   true,
	})

	// Re-check the quota: if this commit crossed the cutoff, the check
	// performs the halt transition.
	c.quota.Check(account)

	return tx, nil
}

// applyLocal folds the gain into the ledger and returns the new balance.
func (c *Committer) applyLocal(accountID string, gain float64) float64 {
	current, _ := c.ledger.CurrentBalance(accountID)
	balance := domain.Round2(current + gain)
	c.ledger.SetCurrentBalance(accountID, balance)

	if highest, ok := c.ledger.HighestBalance(accountID); !ok || balance > highest {
		c.ledger.SetHighestBalance(accountID, balance)
	}

	c.ledger.SetDailyGains(accountID, c.ledger.DailyGains(accountID)+gain)
	observability.LocalBalance.Set(balance)
	return balance
}
