package producer

// Shared fakes and fixtures for the producer package tests.

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/bus"
	"github.com/yieldloop/yieldloop/internal/infra/ledger"
	"github.com/yieldloop/yieldloop/internal/infra/quota"
	"github.com/yieldloop/yieldloop/internal/infra/sqlite"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

var errRemoteDown = errors.New("remote down")

type fakeRemote struct {
	mu         sync.Mutex
	balance    float64
	txs        []domain.Transaction
	failAppend bool
	failIncr   bool
	setCalls   int
}

func (f *fakeRemote) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return domain.Account{ID: id}, nil
}

func (f *fakeRemote) GetBalance(ctx context.Context, id string) (domain.BalanceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.BalanceSnapshot{Balance: f.balance}, nil
}

func (f *fakeRemote) SetBalance(ctx context.Context, id string, balance float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = balance
	f.setCalls++
	return nil
}

func (f *fakeRemote) IncrementBalance(ctx context.Context, id string, delta float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIncr {
		return 0, errRemoteDown
	}
	f.balance = domain.Round2(f.balance + delta)
	return f.balance, nil
}

func (f *fakeRemote) AppendTransaction(ctx context.Context, id string, tx domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend {
		return errRemoteDown
	}
	f.txs = append(f.txs, tx)
	return nil
}

func (f *fakeRemote) ListTransactions(ctx context.Context, id string) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Transaction(nil), f.txs...), nil
}

func (f *fakeRemote) GetSubscription(ctx context.Context, id string) (domain.Tier, error) {
	return domain.TierStarter, nil
}

func (f *fakeRemote) TouchActivity(ctx context.Context, id string) error {
	return nil
}

func (f *fakeRemote) txCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}

type fakeAuth struct {
	account domain.Account
	ok      bool
}

func (f *fakeAuth) Current(ctx context.Context) (domain.Account, bool) {
	return f.account, f.ok
}

type fakeDormancy struct {
	state domain.DormancyState
}

func (f *fakeDormancy) Check(account domain.Account) domain.DormancyState {
	return f.state
}

// fixture bundles the real ledger (in-memory sqlite) with fakes for the
// remote boundary.
type fixture struct {
	remote   *fakeRemote
	ledger   *ledger.Store
	quota    *quota.Engine
	dormancy *fakeDormancy
	bus      *bus.Bus
	commit   *Committer
	log      *logrus.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &fixture{
		remote:   &fakeRemote{},
		dormancy: &fakeDormancy{},
		bus:      bus.New(),
		log:      log,
	}
	f.ledger = ledger.New(db, log)
	f.quota = quota.New(quota.Config{Now: func() time.Time { return testNow }}, f.ledger, f.bus, log)
	f.commit = NewCommitter(f.remote, f.ledger, f.ledger, f.quota, f.bus, log, func() time.Time { return testNow })
	return f
}
