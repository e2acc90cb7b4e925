package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Account / auth errors
	ErrUnauthenticated = errors.New("no authenticated account")
	ErrUnknownAccount  = errors.New("account not found")
	ErrUnknownTier     = errors.New("unknown subscription tier")

	// Production errors
	ErrQuotaExceeded    = errors.New("daily production limit reached")
	ErrSessionInFlight  = errors.New("a session is already in progress")
	ErrSessionDebounced = errors.New("session requested too soon after the previous attempt")
	ErrSessionCooldown  = errors.New("session cooldown has not elapsed")
	ErrInvalidGain      = errors.New("gain must be a positive finite amount")
	ErrBotInactive      = errors.New("automatic production is switched off")

	// Dormancy errors
	ErrDormancyLocked = errors.New("account is dormancy-locked — reactivation required")
	ErrNotLocked      = errors.New("account is not locked")

	// Withdrawal errors
	ErrBelowWithdrawalThreshold = errors.New("balance below withdrawal threshold")
	ErrNothingToWithdraw        = errors.New("balance is zero")

	// Remote service errors
	ErrRemoteUnavailable = errors.New("remote balance service unreachable")
)
