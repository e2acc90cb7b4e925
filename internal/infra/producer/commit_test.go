package producer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/bus"
)

func TestCommit_HappyPath(t *testing.T) {
	f := newFixture(t)
	acct := domain.Account{ID: "a1", Tier: domain.TierGold}
	f.ledger.SetCurrentBalance(acct.ID, 10)

	events, unsub := f.bus.Subscribe(bus.TopicBalanceUpdate)
	defer unsub()

	tx, err := f.commit.Commit(context.Background(), acct, 0.25, "test session", domain.TxAutoSession)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.Gain != 0.25 || tx.Type != domain.TxAutoSession || tx.ID == "" {
		t.Errorf("transaction = %+v", tx)
	}

	if f.remote.txCount() != 1 {
		t.Errorf("remote transactions = %d, want 1", f.remote.txCount())
	}
	if f.remote.balance != 0.25 {
		t.Errorf("remote balance = %v, want 0.25 (delta-incremented)", f.remote.balance)
	}
	if local, _ := f.ledger.CurrentBalance(acct.ID); local != 10.25 {
		t.Errorf("local balance = %v, want 10.25", local)
	}
	if gains := f.ledger.DailyGains(acct.ID); gains != 0.25 {
		t.Errorf("daily gains = %v, want 0.25", gains)
	}
	if highest, _ := f.ledger.HighestBalance(acct.ID); highest != 10.25 {
		t.Errorf("highest balance = %v, want 10.25", highest)
	}
	if cached := f.ledger.CachedTransactions(acct.ID, 10); len(cached) != 1 {
		t.Errorf("cached transactions = %d, want 1", len(cached))
	}

	select {
	case ev := <-events:
		upd := ev.Payload.(bus.BalanceUpdate)
		if upd.Amount != 0.25 || upd.Balance != 10.25 || !upd.Animate {
			t.Errorf("balance event = %+v", upd)
		}
	case <-time.After(time.Second):
		t.Error("no balance event published")
	}
}

func TestCommit_RejectsInvalidGains(t *testing.T) {
	f := newFixture(t)
	acct := domain.Account{ID: "a1", Tier: domain.TierGold}

	for _, gain := range []float64{0, -0.10, math.NaN(), math.Inf(1)} {
		_, err := f.commit.Commit(context.Background(), acct, gain, "test", domain.TxAutoSession)
		if !errors.Is(err, domain.ErrInvalidGain) {
			t.Errorf("Commit(%v): err = %v, want ErrInvalidGain", gain, err)
		}
	}
	if f.remote.txCount() != 0 {
		t.Errorf("invalid gains reached the remote: %d transactions", f.remote.txCount())
	}
}

func TestCommit_AppendFailureLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	f.remote.failAppend = true
	acct := domain.Account{ID: "a1", Tier: domain.TierGold}
	f.ledger.SetCurrentBalance(acct.ID, 10)

	if _, err := f.commit.Commit(context.Background(), acct, 0.25, "test", domain.TxAutoSession); err == nil {
		t.Fatal("Commit succeeded despite append failure")
	}
	if local, _ := f.ledger.CurrentBalance(acct.ID); local != 10 {
		t.Errorf("local balance = %v, want 10 (unchanged)", local)
	}
	if gains := f.ledger.DailyGains(acct.ID); gains != 0 {
		t.Errorf("daily gains = %v, want 0", gains)
	}
}

func TestCommit_IncrementFailureStillAppliesLocally(t *testing.T) {
	// The transaction is durable on the remote; a failed balance
	// increment is repaired by reconciliation, not by aborting the
	// commit.
	f := newFixture(t)
	f.remote.failIncr = true
	acct := domain.Account{ID: "a1", Tier: domain.TierGold}

	if _, err := f.commit.Commit(context.Background(), acct, 0.25, "test", domain.TxAutoSession); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if local, _ := f.ledger.CurrentBalance(acct.ID); local != 0.25 {
		t.Errorf("local balance = %v, want 0.25", local)
	}
	if f.remote.balance != 0 {
		t.Errorf("remote balance = %v, want 0 (increment failed)", f.remote.balance)
	}
}

func TestCommit_TripsQuotaWhenCrossingCutoff(t *testing.T) {
	f := newFixture(t)
	acct := domain.Account{ID: "a1", Tier: domain.TierFreemium}
	f.ledger.SetBotActive(acct.ID, true)
	f.ledger.SetDailyGains(acct.ID, 0.30)

	// 0.30 + 0.20 = 0.50 >= 90% of the 0.5 freemium limit.
	if _, err := f.commit.Commit(context.Background(), acct, 0.20, "test", domain.TxAutoSession); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if f.ledger.BotActive(acct.ID) {
		t.Error("bot still active after the commit crossed the cutoff")
	}
	if !f.ledger.DailyLimitReached(acct.ID, testNow.Format(time.DateOnly)) {
		t.Error("daily-limit marker not recorded")
	}
}
