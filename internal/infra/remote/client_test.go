package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{
		BaseURL:      srv.URL,
		Token:        "test-token",
		Retries:      2,
		RetryBackoff: time.Millisecond,
	}, testLogger())
}

func TestGetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/accounts/a1/balance" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(domain.BalanceSnapshot{Balance: 42.50, Tier: domain.TierGold})
	}))
	defer srv.Close()

	snap, err := newTestClient(srv).GetBalance(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if snap.Balance != 42.50 || snap.Tier != domain.TierGold {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestIncrementBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/accounts/a1/balance/increment" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Delta float64 `json:"delta"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Delta != 0.25 {
			t.Errorf("delta = %v, want 0.25", body.Delta)
		}
		json.NewEncoder(w).Encode(map[string]float64{"balance": 42.75})
	}))
	defer srv.Close()

	balance, err := newTestClient(srv).IncrementBalance(context.Background(), "a1", 0.25)
	if err != nil {
		t.Fatalf("IncrementBalance: %v", err)
	}
	if balance != 42.75 {
		t.Errorf("balance = %v, want 42.75", balance)
	}
}

func TestAppendTransaction(t *testing.T) {
	var got domain.Transaction
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tx := domain.Transaction{ID: "t1", Gain: 0.30, Type: domain.TxAutoSession}
	if err := newTestClient(srv).AppendTransaction(context.Background(), "a1", tx); err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}
	if got.ID != "t1" || got.Gain != 0.30 || got.Type != domain.TxAutoSession {
		t.Errorf("server received %+v", got)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(domain.BalanceSnapshot{Balance: 10})
	}))
	defer srv.Close()

	snap, err := newTestClient(srv).GetBalance(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetBalance after retries: %v", err)
	}
	if snap.Balance != 10 {
		t.Errorf("balance = %v, want 10", snap.Balance)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetBalance(context.Background(), "a1")
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on 401)", calls.Load())
	}
}

func TestUnknownAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetAccount(context.Background(), "missing")
	if !errors.Is(err, domain.ErrUnknownAccount) {
		t.Errorf("err = %v, want ErrUnknownAccount", err)
	}
}

func TestNetworkFailureWrapsRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	c := New(Config{BaseURL: srv.URL, Retries: 1, RetryBackoff: time.Millisecond}, testLogger())
	_, err := c.GetBalance(context.Background(), "a1")
	if !errors.Is(err, domain.ErrRemoteUnavailable) {
		t.Errorf("err = %v, want ErrRemoteUnavailable", err)
	}
}

func TestGetSubscriptionRejectsUnknownTier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"subscription_tier": "platinum"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetSubscription(context.Background(), "a1")
	if !errors.Is(err, domain.ErrUnknownTier) {
		t.Errorf("err = %v, want ErrUnknownTier", err)
	}
}

// ─── Session ────────────────────────────────────────────────────────────────

func TestSessionCachesAccount(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(domain.Account{ID: "a1", Tier: domain.TierStarter})
	}))
	defer srv.Close()

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s := NewSession(newTestClient(srv), "a1", time.Minute, testLogger())
	s.Now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if _, ok := s.Current(context.Background()); !ok {
			t.Fatal("Current reported no session")
		}
	}
	if calls.Load() != 1 {
		t.Errorf("remote fetched %d times within the TTL, want 1", calls.Load())
	}

	// Past the TTL the record is re-read, so a tier change lands.
	now = now.Add(2 * time.Minute)
	s.Current(context.Background())
	if calls.Load() != 2 {
		t.Errorf("remote fetched %d times after expiry, want 2", calls.Load())
	}
}

func TestSessionServesStaleOnRefreshFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(domain.Account{ID: "a1", Tier: domain.TierGold})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retries: 0, RetryBackoff: time.Millisecond}, testLogger())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s := NewSession(c, "a1", time.Minute, testLogger())
	s.Now = func() time.Time { return now }

	if _, ok := s.Current(context.Background()); !ok {
		t.Fatal("initial fetch failed")
	}

	fail.Store(true)
	now = now.Add(2 * time.Minute)
	acct, ok := s.Current(context.Background())
	if !ok || acct.Tier != domain.TierGold {
		t.Errorf("stale cache not served: (%+v, %v)", acct, ok)
	}
}

func TestSessionNoAccountConfigured(t *testing.T) {
	s := NewSession(nil, "", time.Minute, testLogger())
	if _, ok := s.Current(context.Background()); ok {
		t.Error("empty account ID reported a live session")
	}
}
