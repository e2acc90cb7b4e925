// Package ledger implements the local durable ledger store: the engine's
// optimistic view of the balance, the daily accumulators, and the scheduler
// permission flag, namespaced per account.
//
// All accessors are best-effort: a storage failure is logged and swallowed,
// and the caller sees the zero value. Values are validated at the read
// boundary — a corrupted row is treated as unset, never propagated.
package ledger

import (
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/sqlite"
)

// Ledger key names. These mirror the persisted local state layout of the
// dashboard client.
const (
	keyCurrentBalance    = "currentBalance"
	keyHighestBalance    = "highestBalance"
	keyLastKnownBalance  = "lastKnownBalance"
	keyDailyGains        = "dailyGains"
	keyBotActive         = "botActive"
	keyDailySessionCount = "dailySessionCount"
	keyLastSessionAt     = "lastSessionTimestamp"
	keyLastSessionDate   = "last_session_date"
)

// Store is the sqlite-backed domain.LedgerStore implementation.
type Store struct {
	db  *sqlite.DB
	log *logrus.Logger
}

var _ domain.LedgerStore = (*Store)(nil)

// New creates a ledger store over the given database.
func New(db *sqlite.DB, log *logrus.Logger) *Store {
	return &Store{db: db, log: log}
}

// AdoptAccount makes the ledger belong to accountID. If the ledger
// previously belonged to a different account, every key of the previous
// account is purged first so balances never leak across users sharing
// a device.
func (s *Store) AdoptAccount(accountID string) {
	prev, ok, err := s.db.Owner()
	if err != nil {
		s.log.WithError(err).Warn("ledger: read owner failed")
		return
	}
	if ok && prev != accountID {
		s.log.WithFields(logrus.Fields{"previous": prev, "current": accountID}).
			Info("ledger: account switch detected, purging previous account")
		s.PurgeAccount(prev)
	}
	if err := s.db.SetOwner(accountID); err != nil {
		s.log.WithError(err).Warn("ledger: set owner failed")
	}
}

// PurgeAccount removes every ledger key and cached transaction for an account.
func (s *Store) PurgeAccount(accountID string) {
	if err := s.db.DeleteAccountKeys(accountID); err != nil {
		s.log.WithError(err).Warn("ledger: purge keys failed")
	}
	if err := s.db.DeleteAccountTransactions(accountID); err != nil {
		s.log.WithError(err).Warn("ledger: purge transaction cache failed")
	}
}

// ─── Balance Keys ───────────────────────────────────────────────────────────

func (s *Store) CurrentBalance(accountID string) (float64, bool) {
	return s.getFloat(accountID, keyCurrentBalance)
}

func (s *Store) SetCurrentBalance(accountID string, v float64) {
	s.setFloat(accountID, keyCurrentBalance, domain.Round2(v))
	// lastKnownBalance trails currentBalance; kept as a separate key so a
	// future read can distinguish "never synced" from "synced then mutated".
	s.setFloat(accountID, keyLastKnownBalance, domain.Round2(v))
}

func (s *Store) HighestBalance(accountID string) (float64, bool) {
	return s.getFloat(accountID, keyHighestBalance)
}

func (s *Store) SetHighestBalance(accountID string, v float64) {
	s.setFloat(accountID, keyHighestBalance, domain.Round2(v))
}

// ─── Daily Accumulators ─────────────────────────────────────────────────────

func (s *Store) DailyGains(accountID string) float64 {
	v, _ := s.getFloat(accountID, keyDailyGains)
	return v
}

func (s *Store) SetDailyGains(accountID string, v float64) {
	if v < 0 {
		v = 0
	}
	s.setFloat(accountID, keyDailyGains, domain.Round2(v))
}

func (s *Store) DailySessionCount(accountID string) int {
	raw, ok := s.get(accountID, keyDailySessionCount)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.log.WithField("value", raw).Warn("ledger: invalid session count, treating as 0")
		return 0
	}
	return n
}

func (s *Store) SetDailySessionCount(accountID string, n int) {
	if n < 0 {
		n = 0
	}
	s.set(accountID, keyDailySessionCount, strconv.Itoa(n))
}

func (s *Store) LastSessionAt(accountID string) (int64, bool) {
	raw, ok := s.get(accountID, keyLastSessionAt)
	if !ok {
		return 0, false
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.log.WithField("value", raw).Warn("ledger: invalid session timestamp")
		return 0, false
	}
	return unix, true
}

func (s *Store) SetLastSessionAt(accountID string, unix int64) {
	s.set(accountID, keyLastSessionAt, strconv.FormatInt(unix, 10))
}

func (s *Store) LastSessionDate(accountID string) string {
	raw, _ := s.get(accountID, keyLastSessionDate)
	return raw
}

func (s *Store) SetLastSessionDate(accountID, date string) {
	s.set(accountID, keyLastSessionDate, date)
}

// ─── Bot Activation Flag ────────────────────────────────────────────────────

func (s *Store) BotActive(accountID string) bool {
	raw, ok := s.get(accountID, keyBotActive)
	if !ok {
		return false
	}
	return raw == "true"
}

func (s *Store) SetBotActive(accountID string, active bool) {
	s.set(accountID, keyBotActive, strconv.FormatBool(active))
}

// ─── Daily-Limit Markers ────────────────────────────────────────────────────

func (s *Store) DailyLimitReached(accountID, date string) bool {
	ok, err := s.db.LimitReached(accountID, date)
	if err != nil {
		s.log.WithError(err).Warn("ledger: read limit marker failed")
		return false
	}
	return ok
}

func (s *Store) MarkDailyLimitReached(accountID, date string) {
	if err := s.db.MarkLimitReached(accountID, date); err != nil {
		s.log.WithError(err).Warn("ledger: write limit marker failed")
	}
}

// ─── Transaction Cache ──────────────────────────────────────────────────────

// CacheTransaction stores a transaction in the local display cache.
func (s *Store) CacheTransaction(accountID string, tx domain.Transaction) {
	err := s.db.UpsertTransaction(accountID, sqlite.CachedTransaction{
		ID:     tx.ID,
		Date:   tx.Date,
		Gain:   tx.Gain,
		Report: tx.Report,
		Type:   string(tx.Type),
	})
	if err != nil {
		s.log.WithError(err).Warn("ledger: cache transaction failed")
	}
}

// CachedTransactions returns the locally cached history, newest first.
func (s *Store) CachedTransactions(accountID string, limit int) []domain.Transaction {
	rows, err := s.db.ListTransactions(accountID, limit)
	if err != nil {
		s.log.WithError(err).Warn("ledger: list cached transactions failed")
		return nil
	}
	out := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Transaction{
			ID:     r.ID,
			Date:   r.Date,
			Gain:   r.Gain,
			Report: r.Report,
			Type:   domain.TransactionType(r.Type),
		})
	}
	return out
}

// ─── Raw Accessors ──────────────────────────────────────────────────────────

func (s *Store) get(accountID, key string) (string, bool) {
	v, ok, err := s.db.GetKV(accountID, key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("ledger: read failed")
		return "", false
	}
	return v, ok
}

func (s *Store) set(accountID, key, value string) {
	if err := s.db.SetKV(accountID, key, value); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("ledger: write failed")
	}
}

func (s *Store) getFloat(accountID, key string) (float64, bool) {
	raw, ok := s.get(accountID, key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.log.WithFields(logrus.Fields{"key": key, "value": raw}).
			Warn("ledger: invalid numeric value, treating as unset")
		return 0, false
	}
	return v, true
}

func (s *Store) setFloat(accountID, key string, v float64) {
	s.set(accountID, key, strconv.FormatFloat(v, 'f', 2, 64))
}
