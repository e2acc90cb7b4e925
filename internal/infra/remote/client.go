// Package remote implements the HTTP client for the authoritative
// balance service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/observability"
)

// Config configures the remote balance service client.
type Config struct {
	// BaseURL is the service root, e.g. https://api.example.com/v1.
	BaseURL string

	// Token is the bearer token attached to every request.
	Token string

	// Timeout bounds a single HTTP round-trip.
	Timeout time.Duration

	// Retries is the number of additional attempts after a retryable
	// failure. Client errors (4xx) are never retried.
	Retries int

	// RetryBackoff is the pause before the first retry; it doubles on
	// each subsequent one.
	RetryBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		Retries:      2,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// Client talks to the remote balance service over HTTP+JSON. It
// implements domain.RemoteBalanceService.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logrus.Logger
}

var _ domain.RemoteBalanceService = (*Client)(nil)

// New creates a remote client.
func New(cfg Config, log *logrus.Logger) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = def.Retries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// ─── RemoteBalanceService ───────────────────────────────────────────────────

func (c *Client) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	var acct domain.Account
	err := c.do(ctx, http.MethodGet, "/accounts/"+accountID, nil, &acct)
	return acct, err
}

func (c *Client) GetBalance(ctx context.Context, accountID string) (domain.BalanceSnapshot, error) {
	var snap domain.BalanceSnapshot
	err := c.do(ctx, http.MethodGet, "/accounts/"+accountID+"/balance", nil, &snap)
	return snap, err
}

func (c *Client) SetBalance(ctx context.Context, accountID string, balance float64) error {
	body := map[string]float64{"balance": balance}
	return c.do(ctx, http.MethodPut, "/accounts/"+accountID+"/balance", body, nil)
}

func (c *Client) IncrementBalance(ctx context.Context, accountID string, delta float64) (float64, error) {
	body := map[string]float64{"delta": delta}
	var out struct {
		Balance float64 `json:"balance"`
	}
	err := c.do(ctx, http.MethodPost, "/accounts/"+accountID+"/balance/increment", body, &out)
	return out.Balance, err
}

func (c *Client) AppendTransaction(ctx context.Context, accountID string, tx domain.Transaction) error {
	return c.do(ctx, http.MethodPost, "/accounts/"+accountID+"/transactions", tx, nil)
}

func (c *Client) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	err := c.do(ctx, http.MethodGet, "/accounts/"+accountID+"/transactions", nil, &txs)
	return txs, err
}

func (c *Client) GetSubscription(ctx context.Context, accountID string) (domain.Tier, error) {
	var out struct {
		Tier domain.Tier `json:"subscription_tier"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts/"+accountID+"/subscription", nil, &out); err != nil {
		return "", err
	}
	if !out.Tier.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownTier, out.Tier)
	}
	return out.Tier, nil
}

func (c *Client) TouchActivity(ctx context.Context, accountID string) error {
	return c.do(ctx, http.MethodPost, "/accounts/"+accountID+"/touch", nil, nil)
}

// ─── Transport ──────────────────────────────────────────────────────────────

// do performs one JSON request with retries. Network failures and 5xx
// responses are retried with doubling backoff; 4xx responses are
// terminal.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		retryable, err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		c.log.WithError(err).WithFields(logrus.Fields{
			"method": method, "path": path, "attempt": attempt + 1,
		}).Warn("remote: request failed, retrying")
	}
	return lastErr
}

// attempt performs a single round-trip. The bool reports whether the
// failure is worth retrying.
func (c *Client) attempt(ctx context.Context, method, path string, body []byte, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		observability.RemoteErrors.WithLabelValues("transport").Inc()
		return true, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return false, domain.ErrUnauthenticated
	case resp.StatusCode == http.StatusNotFound:
		return false, domain.ErrUnknownAccount
	case resp.StatusCode >= 500:
		observability.RemoteErrors.WithLabelValues("server").Inc()
		return true, fmt.Errorf("%w: status %d", domain.ErrRemoteUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("remote rejected %s %s: status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return false, nil
}
