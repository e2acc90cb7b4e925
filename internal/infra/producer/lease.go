// Package producer implements value production: the background scheduler,
// the manual session controller, the shared commit step, and withdrawals.
package producer

import "sync"

// Token is a lease ownership proof. Release with the token returned by
// TryAcquire; a stale token is ignored.
type Token uint64

// Lease is a process-local, token-based mutual exclusion for one logical
// operation. It replaces ad-hoc boolean in-flight flags: acquisition
// returns a token, and only that token can release the lease, so a
// forgotten or double release cannot unlock someone else's critical
// section. It provides no cross-process exclusion.
type Lease struct {
	mu    sync.Mutex
	held  bool
	token Token
}

// TryAcquire attempts to take the lease without blocking.
// Returns the owner token and true on success.
func (l *Lease) TryAcquire() (Token, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return 0, false
	}
	l.token++
	l.held = true
	return l.token, true
}

// Release frees the lease if tok is the current owner token.
func (l *Lease) Release(tok Token) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held && l.token == tok {
		l.held = false
	}
}

// Held reports whether the lease is currently taken.
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
