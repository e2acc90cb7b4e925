package dormancy

import (
	"context"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/bus"
	"github.com/yieldloop/yieldloop/internal/infra/ledger"
	"github.com/yieldloop/yieldloop/internal/infra/sqlite"
)

var now = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func idleFor(days int) time.Time {
	return now.AddDate(0, 0, -days)
}

// ─── Pure Computation ───────────────────────────────────────────────────────

func TestCompute_Active(t *testing.T) {
	state := Compute(now, idleFor(29), 100, DefaultStages())
	if state.IsDormant || state.Stage != domain.StageActive {
		t.Errorf("29 days idle: state = %+v, want active", state)
	}
	if state.RemainingBalance != 100 {
		t.Errorf("RemainingBalance = %v, want 100", state.RemainingBalance)
	}
}

func TestCompute_Warned(t *testing.T) {
	// 31 days idle, balance 100: one penalty of 25.00, 75 remaining.
	state := Compute(now, idleFor(31), 100, DefaultStages())
	if state.Stage != domain.StageWarned || !state.IsDormant {
		t.Fatalf("stage = %v, want warned", state.Stage)
	}
	if state.DaysIdle != 31 {
		t.Errorf("DaysIdle = %d, want 31", state.DaysIdle)
	}
	if len(state.Penalties) != 1 || state.Penalties[0].Amount != 25.00 {
		t.Errorf("penalties = %+v, want one of 25.00", state.Penalties)
	}
	if state.RemainingBalance != 75 {
		t.Errorf("RemainingBalance = %v, want 75", state.RemainingBalance)
	}
}

func TestCompute_Penalized(t *testing.T) {
	// 61 days idle, balance 100: penalties compound against the
	// remainder — 25.00, then 37.50 (50% of 75), leaving 37.50.
	state := Compute(now, idleFor(61), 100, DefaultStages())
	if state.Stage != domain.StagePenalized {
		t.Fatalf("stage = %v, want penalized", state.Stage)
	}
	amounts := []float64{state.Penalties[0].Amount, state.Penalties[1].Amount}
	if !reflect.DeepEqual(amounts, []float64{25.00, 37.50}) {
		t.Errorf("penalty amounts = %v, want [25.00, 37.50]", amounts)
	}
	if state.RemainingBalance != 37.50 {
		t.Errorf("RemainingBalance = %v, want 37.50", state.RemainingBalance)
	}
}

func TestCompute_Locked(t *testing.T) {
	// 91 days idle: full forfeiture, nothing remains.
	state := Compute(now, idleFor(91), 100, DefaultStages())
	if state.Stage != domain.StageLocked || !state.Locked() {
		t.Fatalf("stage = %v, want locked", state.Stage)
	}
	if state.RemainingBalance != 0 {
		t.Errorf("RemainingBalance = %v, want 0", state.RemainingBalance)
	}
	if len(state.Penalties) != 3 {
		t.Errorf("penalties = %d, want 3", len(state.Penalties))
	}
}

func TestCompute_Idempotent(t *testing.T) {
	a := Compute(now, idleFor(61), 100, DefaultStages())
	b := Compute(now, idleFor(61), 100, DefaultStages())
	if !reflect.DeepEqual(a, b) {
		t.Errorf("repeated Compute diverged:\n  first  %+v\n  second %+v", a, b)
	}
}

func TestCompute_ZeroActivityTimestamp(t *testing.T) {
	state := Compute(now, time.Time{}, 100, DefaultStages())
	if state.IsDormant {
		t.Error("account with no activity timestamp reported dormant")
	}
}

// ─── Effectful Sweep ────────────────────────────────────────────────────────

type fakeRemote struct {
	mu      sync.Mutex
	balance float64
	txs     []domain.Transaction
	touched int
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
	return nil
}

func (f *fakeRemote) IncrementBalance(ctx context.Context, id string, delta float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = domain.Round2(f.balance + delta)
	return f.balance, nil
}

func (f *fakeRemote) AppendTransaction(ctx context.Context, id string, tx domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, tx)
	return nil
}

func (f *fakeRemote) ListTransactions(ctx context.Context, id string) ([]domain.Transaction, error) {
	return f.txs, nil
}

func (f *fakeRemote) GetSubscription(ctx context.Context, id string) (domain.Tier, error) {
	return domain.TierStarter, nil
}

func (f *fakeRemote) TouchActivity(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return nil
}

func testEngine(t *testing.T, remote *fakeRemote) (*Engine, *ledger.Store) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := ledger.New(db, log)
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return now }
	return New(cfg, remote, store, db, bus.New(), log), store
}

func TestSweep_AppliesOutstandingPenalties(t *testing.T) {
	remote := &fakeRemote{balance: 100}
	e, store := testEngine(t, remote)
	acct := domain.Account{ID: "a1", Tier: domain.TierStarter, LastActivityAt: idleFor(61)}
	store.SetCurrentBalance(acct.ID, 100)

	state, err := e.Sweep(context.Background(), acct)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if state.Stage != domain.StagePenalized {
		t.Fatalf("stage = %v, want penalized", state.Stage)
	}

	// One negative transaction per penalty component.
	if len(remote.txs) != 2 {
		t.Fatalf("remote transactions = %d, want 2", len(remote.txs))
	}
	if remote.txs[0].Gain != -25.00 || remote.txs[1].Gain != -37.50 {
		t.Errorf("transaction gains = %v, %v, want -25.00, -37.50", remote.txs[0].Gain, remote.txs[1].Gain)
	}
	if remote.balance != 37.50 {
		t.Errorf("remote balance = %v, want 37.50", remote.balance)
	}
	if local, _ := store.CurrentBalance(acct.ID); local != 37.50 {
		t.Errorf("local balance = %v, want 37.50", local)
	}
}

func TestSweep_IdempotentAcrossRepeatedLoads(t *testing.T) {
	remote := &fakeRemote{balance: 100}
	e, store := testEngine(t, remote)
	acct := domain.Account{ID: "a1", Tier: domain.TierStarter, LastActivityAt: idleFor(31)}
	store.SetCurrentBalance(acct.ID, 100)

	// Sweep three times, as three page loads would.
	for i := 0; i < 3; i++ {
		if _, err := e.Sweep(context.Background(), acct); err != nil {
			t.Fatalf("Sweep #%d: %v", i+1, err)
		}
	}

	if len(remote.txs) != 1 {
		t.Fatalf("penalty charged %d times, want exactly 1", len(remote.txs))
	}
	if local, _ := store.CurrentBalance(acct.ID); local != 75 {
		t.Errorf("local balance = %v, want 75", local)
	}
}

func TestSweep_LaterStageAppliesIncrementally(t *testing.T) {
	remote := &fakeRemote{balance: 100}
	e, store := testEngine(t, remote)
	acct := domain.Account{ID: "a1", Tier: domain.TierStarter, LastActivityAt: idleFor(31)}
	store.SetCurrentBalance(acct.ID, 100)

	// Stage 1 fires at 31 days.
	e.Sweep(context.Background(), acct)

	// Thirty days later the same cycle reaches stage 2; only the new
	// stage is charged.
	e.cfg.Now = func() time.Time { return now.AddDate(0, 0, 30) }
	if _, err := e.Sweep(context.Background(), acct); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}

	if len(remote.txs) != 2 {
		t.Fatalf("transactions = %d, want 2 (one per stage)", len(remote.txs))
	}
	if local, _ := store.CurrentBalance(acct.ID); local != 37.50 {
		t.Errorf("local balance = %v, want 37.50", local)
	}
}

func TestSweep_LockedHaltsProduction(t *testing.T) {
	remote := &fakeRemote{balance: 100}
	e, store := testEngine(t, remote)
	acct := domain.Account{ID: "a1", Tier: domain.TierElite, LastActivityAt: idleFor(91)}
	store.SetCurrentBalance(acct.ID, 100)
	store.SetBotActive(acct.ID, true)

	state, err := e.Sweep(context.Background(), acct)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !state.Locked() {
		t.Fatal("91 days idle not locked")
	}
	if store.BotActive(acct.ID) {
		t.Error("bot still active on a locked account")
	}
	if local, _ := store.CurrentBalance(acct.ID); local != 0 {
		t.Errorf("local balance = %v, want 0 after forfeiture", local)
	}
}

func TestSweep_NonNegativeBalance(t *testing.T) {
	// Ledger balance lower than the computed penalties must clamp at 0,
	// never go negative.
	remote := &fakeRemote{balance: 10}
	e, store := testEngine(t, remote)
	acct := domain.Account{ID: "a1", Tier: domain.TierStarter, LastActivityAt: idleFor(91)}
	store.SetCurrentBalance(acct.ID, 10)

	if _, err := e.Sweep(context.Background(), acct); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if local, _ := store.CurrentBalance(acct.ID); local < 0 {
		t.Errorf("local balance = %v, want >= 0", local)
	}
}

// ─── Reactivation ───────────────────────────────────────────────────────────

func TestReactivate(t *testing.T) {
	remote := &fakeRemote{}
	e, store := testEngine(t, remote)
	acct := domain.Account{ID: "a1", Tier: domain.TierGold, LastActivityAt: idleFor(91)}

	fee, err := e.Reactivate(context.Background(), acct)
	if err != nil {
		t.Fatalf("Reactivate: %v", err)
	}
	if want := domain.Round2(29.99 * 3); fee != want {
		t.Errorf("fee = %v, want %v (3x monthly price)", fee, want)
	}
	if remote.touched != 1 {
		t.Errorf("TouchActivity called %d times, want 1", remote.touched)
	}
	if !store.BotActive(acct.ID) {
		t.Error("bot not re-enabled after reactivation")
	}
	if len(remote.txs) != 1 || remote.txs[0].Type != domain.TxReactivation {
		t.Errorf("reactivation transaction not recorded: %+v", remote.txs)
	}
}

func TestReactivate_RejectsUnlockedAccount(t *testing.T) {
	remote := &fakeRemote{}
	e, store := testEngine(t, remote)
	acct := domain.Account{ID: "a1", Tier: domain.TierGold, LastActivityAt: idleFor(31)}
	store.SetCurrentBalance(acct.ID, 100)

	if _, err := e.Reactivate(context.Background(), acct); err != domain.ErrNotLocked {
		t.Errorf("Reactivate on warned account: err = %v, want ErrNotLocked", err)
	}
}
