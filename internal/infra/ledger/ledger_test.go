package ledger

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(db, log)
}

func TestBalance_RoundTrip(t *testing.T) {
	s := testStore(t)

	if _, ok := s.CurrentBalance("a1"); ok {
		t.Fatal("fresh store reports a balance")
	}

	s.SetCurrentBalance("a1", 50.004)
	v, ok := s.CurrentBalance("a1")
	if !ok || v != 50.00 {
		t.Errorf("CurrentBalance = (%v, %v), want (50.00, true) — values round to 2dp", v, ok)
	}
}

func TestNamespacing(t *testing.T) {
	s := testStore(t)

	s.SetCurrentBalance("a1", 100)
	s.SetCurrentBalance("a2", 5)
	s.SetBotActive("a1", true)

	if v, _ := s.CurrentBalance("a2"); v != 5 {
		t.Errorf("a2 balance = %v, want 5", v)
	}
	if s.BotActive("a2") {
		t.Error("a2 inherited a1's bot flag")
	}
}

func TestAdoptAccount_PurgesPreviousAccount(t *testing.T) {
	s := testStore(t)

	s.AdoptAccount("a1")
	s.SetCurrentBalance("a1", 100)
	s.SetDailyGains("a1", 0.4)
	s.CacheTransaction("a1", domain.Transaction{ID: "t1", Date: time.Now(), Gain: 0.1, Type: domain.TxAutoSession})

	// New user signs in on the same device.
	s.AdoptAccount("a2")

	if _, ok := s.CurrentBalance("a1"); ok {
		t.Error("previous account's balance survived the switch")
	}
	if g := s.DailyGains("a1"); g != 0 {
		t.Errorf("previous account's daily gains = %v, want 0", g)
	}
	if txs := s.CachedTransactions("a1", 10); len(txs) != 0 {
		t.Errorf("previous account's transaction cache survived: %d rows", len(txs))
	}

	// Re-adopting the same account must not purge.
	s.SetCurrentBalance("a2", 7)
	s.AdoptAccount("a2")
	if v, ok := s.CurrentBalance("a2"); !ok || v != 7 {
		t.Errorf("re-adopt purged the current account: (%v, %v)", v, ok)
	}
}

func TestDailyGains_NeverNegative(t *testing.T) {
	s := testStore(t)
	s.SetDailyGains("a1", -3)
	if g := s.DailyGains("a1"); g != 0 {
		t.Errorf("DailyGains = %v, want 0 after negative write", g)
	}
}

func TestCorruptValueTreatedAsUnset(t *testing.T) {
	s := testStore(t)

	// Write garbage straight through the raw layer.
	s.set("a1", "currentBalance", "not-a-number")
	if _, ok := s.CurrentBalance("a1"); ok {
		t.Error("corrupt balance surfaced instead of reading as unset")
	}

	s.set("a1", "dailySessionCount", "-9x")
	if n := s.DailySessionCount("a1"); n != 0 {
		t.Errorf("corrupt session count = %d, want 0", n)
	}
}

func TestSessionBookkeeping(t *testing.T) {
	s := testStore(t)

	if _, ok := s.LastSessionAt("a1"); ok {
		t.Fatal("fresh store reports a session timestamp")
	}
	s.SetLastSessionAt("a1", 1756700000)
	unix, ok := s.LastSessionAt("a1")
	if !ok || unix != 1756700000 {
		t.Errorf("LastSessionAt = (%d, %v), want (1756700000, true)", unix, ok)
	}

	s.SetDailySessionCount("a1", 3)
	if n := s.DailySessionCount("a1"); n != 3 {
		t.Errorf("DailySessionCount = %d, want 3", n)
	}

	s.SetLastSessionDate("a1", "2026-09-01")
	if d := s.LastSessionDate("a1"); d != "2026-09-01" {
		t.Errorf("LastSessionDate = %q, want 2026-09-01", d)
	}
}

func TestBotActive_DefaultsOff(t *testing.T) {
	s := testStore(t)
	if s.BotActive("a1") {
		t.Error("bot active by default")
	}
	s.SetBotActive("a1", true)
	if !s.BotActive("a1") {
		t.Error("bot flag not persisted")
	}
	s.SetBotActive("a1", false)
	if s.BotActive("a1") {
		t.Error("bot flag not cleared")
	}
}

func TestDailyLimitMarker(t *testing.T) {
	s := testStore(t)

	if s.DailyLimitReached("a1", "2026-09-01") {
		t.Fatal("fresh account has a limit marker")
	}
	s.MarkDailyLimitReached("a1", "2026-09-01")
	if !s.DailyLimitReached("a1", "2026-09-01") {
		t.Error("limit marker not persisted")
	}
	if s.DailyLimitReached("a1", "2026-09-02") {
		t.Error("limit marker leaked across dates")
	}
}
