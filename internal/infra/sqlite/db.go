// Package sqlite provides the durable local store behind the ledger:
// namespaced key-value rows, the cached transaction history, dormancy
// penalty guard records, and daily-limit markers.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle and exposes typed operations.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies all migrations.
// Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The ledger is accessed from several timer goroutines; a single
	// connection avoids SQLITE_BUSY on the write path.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying handle.
func (db *DB) Close() error { return db.db.Close() }

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Namespaced ledger keys, one row per (account, key)
		`CREATE TABLE IF NOT EXISTS ledger_kv (
			account_id TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (account_id, key)
		)`,

		// The account the ledger currently belongs to. A mismatch on
		// startup triggers a purge of the previous account's keys.
		`CREATE TABLE IF NOT EXISTS ledger_owner (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			account_id TEXT NOT NULL
		)`,

		// Cached copy of the remote transaction history, for display
		`CREATE TABLE IF NOT EXISTS transactions_cache (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			date       TEXT NOT NULL,
			gain       REAL NOT NULL,
			report     TEXT NOT NULL DEFAULT '',
			type       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_txcache_account ON transactions_cache(account_id, date DESC)`,

		// Dormancy penalty guards: one row per (account, stage, cycle).
		// The cycle is the last-activity date the decay was computed from,
		// so a reactivated account can decay again later without the old
		// guards blocking the new cycle.
		`CREATE TABLE IF NOT EXISTS dormancy_penalties (
			account_id  TEXT NOT NULL,
			stage       INTEGER NOT NULL,
			cycle_start TEXT NOT NULL,
			amount      REAL NOT NULL,
			applied_at  TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (account_id, stage, cycle_start)
		)`,

		// Daily-limit markers, keyed by calendar date
		`CREATE TABLE IF NOT EXISTS limit_markers (
			account_id TEXT NOT NULL,
			date       TEXT NOT NULL,
			PRIMARY KEY (account_id, date)
		)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Ledger KV Operations ───────────────────────────────────────────────────

// GetKV returns the raw value for a ledger key, or ok=false if unset.
func (db *DB) GetKV(accountID, key string) (string, bool, error) {
	var value string
	err := db.db.QueryRow(`
		SELECT value FROM ledger_kv WHERE account_id = ? AND key = ?
	`, accountID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetKV upserts a ledger key.
func (db *DB) SetKV(accountID, key, value string) error {
	_, err := db.db.Exec(`
		INSERT INTO ledger_kv (account_id, key, value, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(account_id, key) DO UPDATE SET
			value      = excluded.value,
			updated_at = datetime('now')
	`, accountID, key, value)
	return err
}

// DeleteAccountKeys removes every ledger key for an account.
func (db *DB) DeleteAccountKeys(accountID string) error {
	_, err := db.db.Exec(`DELETE FROM ledger_kv WHERE account_id = ?`, accountID)
	return err
}

// Owner returns the account the ledger currently belongs to.
func (db *DB) Owner() (string, bool, error) {
	var id string
	err := db.db.QueryRow(`SELECT account_id FROM ledger_owner WHERE id = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// SetOwner records the account the ledger belongs to.
func (db *DB) SetOwner(accountID string) error {
	_, err := db.db.Exec(`
		INSERT INTO ledger_owner (id, account_id) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET account_id = excluded.account_id
	`, accountID)
	return err
}

// ─── Transaction Cache Operations ───────────────────────────────────────────

// CachedTransaction is one row of the local transaction history cache.
type CachedTransaction struct {
	ID     string
	Date   time.Time
	Gain   float64
	Report string
	Type   string
}

// UpsertTransaction stores one transaction in the local cache.
func (db *DB) UpsertTransaction(accountID string, tx CachedTransaction) error {
	_, err := db.db.Exec(`
		INSERT INTO transactions_cache (id, account_id, date, gain, report, type)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			gain   = excluded.gain,
			report = excluded.report,
			type   = excluded.type
	`, tx.ID, accountID, tx.Date.Format(time.RFC3339), tx.Gain, tx.Report, tx.Type)
	return err
}

// ListTransactions returns the cached history for an account, newest first.
func (db *DB) ListTransactions(accountID string, limit int) ([]CachedTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.Query(`
		SELECT id, date, gain, report, type FROM transactions_cache
		WHERE account_id = ? ORDER BY date DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CachedTransaction
	for rows.Next() {
		var tx CachedTransaction
		var dateStr string
		if err := rows.Scan(&tx.ID, &dateStr, &tx.Gain, &tx.Report, &tx.Type); err != nil {
			return nil, err
		}
		tx.Date, _ = time.Parse(time.RFC3339, dateStr)
		result = append(result, tx)
	}
	return result, rows.Err()
}

// DeleteAccountTransactions clears the cached history for an account.
func (db *DB) DeleteAccountTransactions(accountID string) error {
	_, err := db.db.Exec(`DELETE FROM transactions_cache WHERE account_id = ?`, accountID)
	return err
}

// ─── Dormancy Penalty Guards ────────────────────────────────────────────────

// RecordPenalty inserts a penalty guard for (account, stage, cycle).
// Returns applied=false when the guard already exists — the caller must
// then skip the effectful penalty to avoid double-charging.
func (db *DB) RecordPenalty(accountID string, stage int, cycleStart string, amount float64) (bool, error) {
	res, err := db.db.Exec(`
		INSERT OR IGNORE INTO dormancy_penalties (account_id, stage, cycle_start, amount)
		VALUES (?, ?, ?, ?)
	`, accountID, stage, cycleStart, amount)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppliedPenaltyTotal sums the penalty amounts already charged for the
// given dormancy cycle.
func (db *DB) AppliedPenaltyTotal(accountID, cycleStart string) (float64, error) {
	var total float64
	err := db.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM dormancy_penalties
		WHERE account_id = ? AND cycle_start = ?
	`, accountID, cycleStart).Scan(&total)
	return total, err
}

// PenaltyApplied checks whether a stage's penalty was already charged
// for the given dormancy cycle.
func (db *DB) PenaltyApplied(accountID string, stage int, cycleStart string) (bool, error) {
	var count int
	err := db.db.QueryRow(`
		SELECT COUNT(*) FROM dormancy_penalties
		WHERE account_id = ? AND stage = ? AND cycle_start = ?
	`, accountID, stage, cycleStart).Scan(&count)
	return count > 0, err
}

// ─── Daily-Limit Markers ────────────────────────────────────────────────────

// MarkLimitReached records that the account hit its daily limit on date.
func (db *DB) MarkLimitReached(accountID, date string) error {
	_, err := db.db.Exec(`
		INSERT OR IGNORE INTO limit_markers (account_id, date) VALUES (?, ?)
	`, accountID, date)
	return err
}

// LimitReached checks whether the account hit its daily limit on date.
func (db *DB) LimitReached(accountID, date string) (bool, error) {
	var count int
	err := db.db.QueryRow(`
		SELECT COUNT(*) FROM limit_markers WHERE account_id = ? AND date = ?
	`, accountID, date).Scan(&count)
	return count > 0, err
}
