package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; engines depend on them.

// RemoteBalanceService is the authoritative record store for accounts,
// balances, and transactions. Every call is a network round-trip and
// may fail; callers are expected to catch, log, and retry on their own
// schedule rather than surface failures to the UI.
type RemoteBalanceService interface {
	// GetAccount returns the account record, including its current tier
	// and last-activity timestamp. Tier must be re-read rather than cached
	// indefinitely: the payment webhook mutates it out-of-band.
	GetAccount(ctx context.Context, accountID string) (Account, error)

	// GetBalance returns the authoritative balance snapshot.
	GetBalance(ctx context.Context, accountID string) (BalanceSnapshot, error)

	// SetBalance overwrites the authoritative balance. Only the
	// reconciliation drift repair and the withdrawal reset use this;
	// production commits go through IncrementBalance.
	SetBalance(ctx context.Context, accountID string, balance float64) error

	// IncrementBalance applies a signed delta atomically on the server
	// and returns the resulting balance.
	IncrementBalance(ctx context.Context, accountID string, delta float64) (float64, error)

	// AppendTransaction records an immutable balance-change entry.
	AppendTransaction(ctx context.Context, accountID string, tx Transaction) error

	// ListTransactions returns the account's transaction history,
	// newest first.
	ListTransactions(ctx context.Context, accountID string) ([]Transaction, error)

	// GetSubscription returns the account's current tier.
	GetSubscription(ctx context.Context, accountID string) (Tier, error)

	// TouchActivity resets the account's last-activity timestamp.
	TouchActivity(ctx context.Context, accountID string) error
}

// LedgerStore is the local durable key-value ledger, namespaced per
// account. Reads and writes are synchronous and best-effort: storage
// failures are logged inside the implementation and never surfaced —
// a miss simply returns the zero value with ok=false.
type LedgerStore interface {
	// Balance keys
	CurrentBalance(accountID string) (float64, bool)
	SetCurrentBalance(accountID string, v float64)
	HighestBalance(accountID string) (float64, bool)
	SetHighestBalance(accountID string, v float64)

	// Daily accumulators
	DailyGains(accountID string) float64
	SetDailyGains(accountID string, v float64)
	DailySessionCount(accountID string) int
	SetDailySessionCount(accountID string, n int)
	LastSessionAt(accountID string) (int64, bool) // unix seconds
	SetLastSessionAt(accountID string, unix int64)
	LastSessionDate(accountID string) string // YYYY-MM-DD, "" if unset
	SetLastSessionDate(accountID string, date string)

	// Scheduler permission flag
	BotActive(accountID string) bool
	SetBotActive(accountID string, active bool)

	// Daily-limit marker, keyed by calendar date so a restart cannot
	// re-permit production until the date rolls over.
	DailyLimitReached(accountID, date string) bool
	MarkDailyLimitReached(accountID, date string)

	// PurgeAccount removes every key for the given account. Called when
	// the authenticated account changes, to prevent cross-account leakage.
	PurgeAccount(accountID string)
}

// AuthSession exposes the externally managed authentication state.
// Engines must no-op gracefully when no account is authenticated.
type AuthSession interface {
	// Current returns the authenticated account, or ok=false when there
	// is no live session.
	Current(ctx context.Context) (Account, bool)
}
