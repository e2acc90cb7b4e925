package remote

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
)

// Session is the remote-backed authentication state. The account record
// is cached briefly so engines can gate on it every tick without a
// network round-trip, but short enough that an out-of-band tier change
// (the payment webhook) is picked up within a minute.
type Session struct {
	remote    domain.RemoteBalanceService
	accountID string
	ttl       time.Duration
	log       *logrus.Logger

	// Now is an injectable clock for testing.
	Now func() time.Time

	mu        sync.Mutex
	cached    domain.Account
	fetchedAt time.Time
}

var _ domain.AuthSession = (*Session)(nil)

// NewSession creates a session for the configured account.
func NewSession(remote domain.RemoteBalanceService, accountID string, ttl time.Duration, log *logrus.Logger) *Session {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Session{remote: remote, accountID: accountID, ttl: ttl, log: log, Now: time.Now}
}

// Current returns the authenticated account, re-reading the record from
// the remote when the cache has expired. A fetch failure with a warm
// cache serves the stale record; with a cold cache it reports no
// session, and the engines skip their tick.
func (s *Session) Current(ctx context.Context) (domain.Account, bool) {
	if s.accountID == "" {
		return domain.Account{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if !s.fetchedAt.IsZero() && now.Sub(s.fetchedAt) < s.ttl {
		return s.cached, true
	}

	acct, err := s.remote.GetAccount(ctx, s.accountID)
	if err != nil {
		if s.fetchedAt.IsZero() {
			s.log.WithError(err).Warn("auth: account fetch failed, no session")
			return domain.Account{}, false
		}
		s.log.WithError(err).Warn("auth: account refresh failed, serving cached record")
		return s.cached, true
	}

	s.cached = acct
	s.fetchedAt = now
	return acct, true
}

// Invalidate drops the cached record so the next Current re-fetches.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchedAt = time.Time{}
}
