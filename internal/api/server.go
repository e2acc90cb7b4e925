// Package api provides the local HTTP API the dashboard frontend talks
// to. Every endpoint operates on the authenticated account; there is no
// multi-tenant surface here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/bus"
	"github.com/yieldloop/yieldloop/internal/infra/dormancy"
	"github.com/yieldloop/yieldloop/internal/infra/ledger"
	"github.com/yieldloop/yieldloop/internal/infra/producer"
	"github.com/yieldloop/yieldloop/internal/infra/quota"
)

// Version is the daemon version reported by /api/version.
const Version = "0.1.0"

// Server is the dashboard HTTP API server.
type Server struct {
	auth       domain.AuthSession
	ledger     *ledger.Store
	quota      *quota.Engine
	sessions   *producer.Controller
	withdrawer *producer.Withdrawer
	dormancy   *dormancy.Engine
	remote     domain.RemoteBalanceService
	feed       *Feed
	log        *logrus.Logger

	metricsEnabled bool
}

// NewServer creates the API server.
func NewServer(auth domain.AuthSession, ledger *ledger.Store, q *quota.Engine, sessions *producer.Controller, withdrawer *producer.Withdrawer, d *dormancy.Engine, remote domain.RemoteBalanceService, b *bus.Bus, log *logrus.Logger) *Server {
	return &Server{
		auth:       auth,
		ledger:     ledger,
		quota:      q,
		sessions:   sessions,
		withdrawer: withdrawer,
		dormancy:   d,
		remote:     remote,
		feed:       NewFeed(b, log),
		log:        log,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Feed returns the live event feed (for lifecycle management).
func (s *Server) Feed() *Feed { return s.feed }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		r.Get("/balance", s.handleBalance)
		r.Get("/balance/live", s.feed.HandleSSE)
		r.Get("/quota", s.handleQuota)
		r.Get("/transactions", s.handleTransactions)

		r.Post("/session", s.handleSession)
		r.Post("/withdraw", s.handleWithdraw)

		r.Get("/bot", s.handleBotState)
		r.Post("/bot", s.handleBotToggle)

		r.Get("/dormancy", s.handleDormancy)
		r.Post("/dormancy/reactivate", s.handleReactivate)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	account, ok := s.auth.Current(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "running",
		"authenticated": ok,
		"account_id":    account.ID,
		"tier":          account.Tier,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := s.auth.Current(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated account")
		return
	}
	balance, _ := s.ledger.CurrentBalance(account.ID)
	highest, _ := s.ledger.HighestBalance(account.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":         balance,
		"highest_balance": highest,
		"daily_gains":     s.ledger.DailyGains(account.ID),
		"bot_active":      s.ledger.BotActive(account.ID),
	})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	account, ok := s.auth.Current(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated account")
		return
	}
	writeJSON(w, http.StatusOK, s.quota.Check(account))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	account, ok := s.auth.Current(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated account")
		return
	}

	// The local cache serves instantly; fall back to the remote history
	// on a cold cache.
	txs := s.ledger.CachedTransactions(account.ID, 50)
	if len(txs) == 0 {
		remoteTxs, err := s.remote.ListTransactions(r.Context(), account.ID)
		if err != nil {
			s.log.WithError(err).Warn("api: remote transaction fetch failed")
		} else {
			txs = remoteTxs
		}
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	account, ok := s.auth.Current(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated account")
		return
	}

	res, err := s.sessions.StartSession(r.Context(), account)
	if err != nil {
		status, msg := errStatus(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gain":        res.GainAmount,
		"daily_gains": res.DailyGains,
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	account, ok := s.auth.Current(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated account")
		return
	}

	amount, err := s.withdrawer.Withdraw(r.Context(), account)
	if err != nil {
		status, msg := errStatus(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amount":    amount,
		"threshold": s.withdrawer.Threshold(account.Tier),
	})
}

func (s *Server) handleBotState(w http.ResponseWriter, r *http.Request) {
	account, ok := s.auth.Current(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active": s.ledger.BotActive(account.ID),
	})
}

func (s *Server) handleBotToggle(w http.ResponseWriter, r *http.Request) {
	account, ok := s.auth.Current(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated account")
		return
	}

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Turning the bot on is refused while the daily limit marker or a
	// dormancy lock is in force; those clear on their own schedule.
	if body.Active {
		if status := s.quota.Check(account); status.Exceeded {
			writeError(w, http.StatusConflict, "daily limit reached, production resumes tomorrow")
			return
		}
		if s.dormancy.Check(account).Locked() {
			writeError(w, http.StatusConflict, "account is dormancy-locked, reactivate first")
			return
		}
	}

	s.ledger.SetBotActive(account.ID, body.Active)
	writeJSON(w, http.StatusOK, map[string]any{"active": body.Active})
}

func (s *Server) handleDormancy(w http.ResponseWriter, r *http.Request) {
	account, ok := s.auth.Current(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated account")
		return
	}
	state := s.dormancy.Check(account)
	writeJSON(w, http.StatusOK, map[string]any{
		"stage":             state.Stage.String(),
		"days_idle":         state.DaysIdle,
		"is_dormant":        state.IsDormant,
		"remaining_balance": state.RemainingBalance,
		"penalties":         state.Penalties,
		"reactivation_fee":  s.dormancy.ReactivationFee(account.Tier),
	})
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	account, ok := s.auth.Current(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated account")
		return
	}

	fee, err := s.dormancy.Reactivate(r.Context(), account)
	if err != nil {
		status, msg := errStatus(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fee": fee})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// errStatus maps domain sentinel errors to HTTP status codes and user
// notices.
func errStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication expired"
	case errors.Is(err, domain.ErrUnknownAccount):
		return http.StatusNotFound, "account not found"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "daily production limit reached"
	case errors.Is(err, domain.ErrSessionDebounced), errors.Is(err, domain.ErrSessionInFlight):
		return http.StatusTooManyRequests, "a session is already running"
	case errors.Is(err, domain.ErrSessionCooldown):
		return http.StatusTooManyRequests, "session cooldown in effect, try again shortly"
	case errors.Is(err, domain.ErrDormancyLocked):
		return http.StatusConflict, "account is dormancy-locked"
	case errors.Is(err, domain.ErrNotLocked):
		return http.StatusConflict, "account is not locked"
	case errors.Is(err, domain.ErrBelowWithdrawalThreshold):
		return http.StatusBadRequest, "balance below the withdrawal threshold"
	case errors.Is(err, domain.ErrNothingToWithdraw):
		return http.StatusBadRequest, "nothing to withdraw"
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return http.StatusBadGateway, "balance service unavailable"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for the local frontend.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
