// Package reconcile converges the local ledger balance with the remote
// authoritative balance.
//
// Production commits push deltas through the remote's atomic increment,
// so under normal operation the two sides only drift through missed
// increments or out-of-band remote changes. The repair policy for drift
// is higher-value-wins within a tolerance of domain.Epsilon: the larger
// balance is assumed more recent, since balances only legitimately
// decrease through withdrawal and dormancy penalties, which write both
// sides themselves. This is not a safe merge under concurrent writers;
// the engine is single-process and the remaining races are accepted.
package reconcile

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/bus"
	"github.com/yieldloop/yieldloop/internal/infra/observability"
)

// Config configures the reconciliation engine.
type Config struct {
	// Interval between scheduled reconcile runs.
	Interval time.Duration

	// Timeout bounds a single run's remote calls.
	Timeout time.Duration

	// DivergenceAlert is the sanity threshold above which a divergence is
	// logged at warning level instead of silently repaired.
	DivergenceAlert float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Second,
		Timeout:         15 * time.Second,
		DivergenceAlert: 1000,
	}
}

// Engine periodically compares the local and remote balances and
// propagates the winner to both sides.
type Engine struct {
	cfg    Config
	remote domain.RemoteBalanceService
	ledger domain.LedgerStore
	bus    *bus.Bus
	log    *logrus.Logger

	// inFlight guards against overlapping runs: a tick that fires while
	// a previous run is still talking to the remote is dropped.
	inFlight atomic.Bool
}

// New creates a reconciliation engine.
func New(cfg Config, remote domain.RemoteBalanceService, ledger domain.LedgerStore, b *bus.Bus, log *logrus.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.DivergenceAlert <= 0 {
		cfg.DivergenceAlert = DefaultConfig().DivergenceAlert
	}
	return &Engine{cfg: cfg, remote: remote, ledger: ledger, bus: b, log: log}
}

// Run drives reconciliation on a fixed interval until ctx is cancelled.
// An initial run fires immediately. Failures are logged and retried on
// the next tick; there is no additional backoff here.
func (e *Engine) Run(ctx context.Context, auth domain.AuthSession) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.runOnce(ctx, auth)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("reconcile: stopping")
			return
		case <-ticker.C:
			e.runOnce(ctx, auth)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context, auth domain.AuthSession) {
	account, ok := auth.Current(ctx)
	if !ok {
		return // unauthenticated: no reconciliation
	}
	if err := e.Reconcile(ctx, account.ID); err != nil {
		e.log.WithError(err).WithField("account", account.ID).
			Warn("reconcile: run failed, will retry on next tick")
	}
}

// Reconcile performs one compare-and-converge pass for the account.
// Safe to call from outside the scheduled loop (e.g. right after a local
// mutation); overlapping calls are dropped, not queued.
func (e *Engine) Reconcile(ctx context.Context, accountID string) error {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil // a run is already in progress
	}
	defer e.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	snap, err := e.remote.GetBalance(ctx, accountID)
	if err != nil {
		observability.RemoteErrors.WithLabelValues("get_balance").Inc()
		return err
	}
	remote := domain.Round2(snap.Balance)

	local, ok := e.ledger.CurrentBalance(accountID)
	if !ok {
		// First sight of this account locally: seed from the remote.
		e.adoptRemote(accountID, remote, remote)
		return nil
	}
	local = domain.Round2(local)

	diff := local - remote
	observability.ReconcileDivergence.Observe(math.Abs(diff))

	if math.Abs(diff) > e.cfg.DivergenceAlert {
		e.log.WithFields(logrus.Fields{
			"account": accountID,
			"local":   local,
			"remote":  remote,
		}).Warn("reconcile: divergence exceeds sanity threshold")
	}

	switch {
	case diff > domain.Epsilon:
		// Local wins: push to the remote.
		if err := e.remote.SetBalance(ctx, accountID, local); err != nil {
			observability.RemoteErrors.WithLabelValues("set_balance").Inc()
			return err
		}
		observability.ReconcilePushes.Inc()
		e.log.WithFields(logrus.Fields{"account": accountID, "balance": local, "remote_was": remote}).
			Debug("reconcile: pushed local balance to remote")

	case diff < -domain.Epsilon:
		// Remote wins: pull into the ledger and force a UI refresh.
		e.adoptRemote(accountID, remote, remote-local)
		observability.ReconcilePulls.Inc()

	default:
		// Within tolerance: no-op.
	}
	return nil
}

// adoptRemote writes the remote balance into the ledger and broadcasts a
// forced update. The ledger write happens before the event is published.
func (e *Engine) adoptRemote(accountID string, balance, delta float64) {
	e.ledger.SetCurrentBalance(accountID, balance)
	if highest, ok := e.ledger.HighestBalance(accountID); !ok || balance > highest {
		e.ledger.SetHighestBalance(accountID, balance)
	}
	observability.LocalBalance.Set(balance)

	e.bus.Publish(bus.TopicForcedUpdate, bus.BalanceUpdate{
		AccountID: accountID,
		Amount:    domain.Round2(delta),
		Balance:   balance,
		Animate:   false,
	})
}
