package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/api"
	"github.com/yieldloop/yieldloop/internal/domain"
	"github.com/yieldloop/yieldloop/internal/infra/bus"
	"github.com/yieldloop/yieldloop/internal/infra/dormancy"
	"github.com/yieldloop/yieldloop/internal/infra/ledger"
	"github.com/yieldloop/yieldloop/internal/infra/producer"
	"github.com/yieldloop/yieldloop/internal/infra/quota"
	"github.com/yieldloop/yieldloop/internal/infra/reconcile"
	"github.com/yieldloop/yieldloop/internal/infra/remote"
	"github.com/yieldloop/yieldloop/internal/infra/sqlite"
)

// Daemon is the assembled balance engine: ledger, remote client, quota,
// dormancy, producers, reconciliation, and the local HTTP API.
type Daemon struct {
	cfg    Config
	log    *logrus.Logger
	db     *sqlite.DB
	ledger *ledger.Store
	auth   *remote.Session
	quota  *quota.Engine

	reconciler *reconcile.Engine
	scheduler  *producer.Scheduler
	dormancy   *dormancy.Engine
	server     *api.Server
}

// New wires the daemon from configuration. Nothing runs until Run.
func New(cfg Config, log *logrus.Logger) (*Daemon, error) {
	if cfg.Auth.AccountID == "" {
		return nil, errors.New("no account configured: set auth.account_id or YIELDLOOP_ACCOUNT_ID")
	}
	if cfg.Remote.BaseURL == "" {
		return nil, errors.New("no balance service configured: set remote.base_url or YIELDLOOP_REMOTE_URL")
	}

	if err := os.MkdirAll(Home(), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := sqlite.Open(LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	store := ledger.New(db, log)
	store.AdoptAccount(cfg.Auth.AccountID)

	client := remote.New(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: parseDuration(cfg.Remote.Timeout, 15*time.Second),
	}, log)
	auth := remote.NewSession(client, cfg.Auth.AccountID, parseDuration(cfg.Auth.CacheTTL, time.Minute), log)

	b := bus.New()
	q := quota.New(quota.Config{Limits: tierTable(cfg.Limits)}, store, b, log)
	commit := producer.NewCommitter(client, store, store, q, b, log, nil)

	dcfg := dormancy.Config{
		MonthlyPrices: tierTable(cfg.Dormancy.MonthlyPrices),
		FeeMultiplier: cfg.Dormancy.FeeMultiplier,
	}
	for _, s := range cfg.Dormancy.Stages {
		dcfg.Stages = append(dcfg.Stages, dormancy.StageRule{Days: s.Days, Ratio: s.Ratio})
	}
	d := dormancy.New(dcfg, client, store, db, b, log)

	sched := producer.NewScheduler(producer.SchedulerConfig{
		WarmupDelay: parseDuration(cfg.Scheduler.WarmupDelay, 10*time.Second),
		IntervalMin: parseDuration(cfg.Scheduler.IntervalMin, 2*time.Minute),
		IntervalMax: parseDuration(cfg.Scheduler.IntervalMax, 3*time.Minute),
		Gains:       tierRanges(cfg.Gains.Auto),
	}, auth, store, q, d, commit, log)

	sessions := producer.NewController(producer.SessionConfig{
		Debounce: parseDuration(cfg.Session.Debounce, 2*time.Second),
		Cooldown: parseDuration(cfg.Session.Cooldown, 60*time.Second),
		Gains:    tierRanges(cfg.Gains.Manual),
	}, store, q, d, commit, log)

	withdrawer := producer.NewWithdrawer(producer.WithdrawConfig{
		Thresholds: tierTable(cfg.Withdrawals),
	}, client, store, store, b, log)

	rec := reconcile.New(reconcile.Config{
		Interval: parseDuration(cfg.Reconcile.Interval, 30*time.Second),
		Timeout:  parseDuration(cfg.Reconcile.Timeout, 15*time.Second),
	}, client, store, b, log)

	server := api.NewServer(auth, store, q, sessions, withdrawer, d, client, b, log)
	if cfg.API.MetricsEnabled {
		server.EnableMetrics()
	}

	return &Daemon{
		cfg:        cfg,
		log:        log,
		db:         db,
		ledger:     store,
		auth:       auth,
		quota:      q,
		reconciler: rec,
		scheduler:  sched,
		dormancy:   d,
		server:     server,
	}, nil
}

// Run starts every engine and blocks until ctx is cancelled, then shuts
// the HTTP server down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.db.Close()

	d.startup(ctx)

	go d.reconciler.Run(ctx, d.auth)
	go d.scheduler.Run(ctx)
	go d.housekeeping(ctx)

	addr := net.JoinHostPort(d.cfg.API.Host, strconv.Itoa(d.cfg.API.Port))
	srv := &http.Server{Addr: addr, Handler: d.server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		d.log.WithField("addr", addr).Info("daemon: API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		d.log.Info("daemon: stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}

// startup brings the account's local state up to date: roll the daily
// accumulators if the date advanced while the daemon was down, then
// apply any dormancy penalties that accrued.
func (d *Daemon) startup(ctx context.Context) {
	account, ok := d.auth.Current(ctx)
	if !ok {
		d.log.Warn("daemon: starting without a reachable account, engines idle until it appears")
		return
	}

	if d.quota.RolloverIfNewDay(account.ID) {
		d.log.WithField("account", account.ID).Info("daemon: daily accumulators rolled over")
	}
	if state, err := d.dormancy.Sweep(ctx, account); err != nil {
		d.log.WithError(err).Warn("daemon: startup dormancy sweep failed")
	} else if state.IsDormant {
		d.log.WithFields(logrus.Fields{
			"account": account.ID,
			"stage":   state.Stage.String(),
		}).Warn("daemon: account is dormant")
	}
}

// housekeeping runs the midnight maintenance: daily rollover plus a
// dormancy sweep. Checked every minute rather than timed to midnight so
// clock jumps (suspend/resume) are caught within a minute.
func (d *Daemon) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			account, ok := d.auth.Current(ctx)
			if !ok {
				continue
			}
			if d.quota.RolloverIfNewDay(account.ID) {
				if _, err := d.dormancy.Sweep(ctx, account); err != nil {
					d.log.WithError(err).Warn("daemon: housekeeping dormancy sweep failed")
				}
			}
		}
	}
}

// Account returns the authenticated account, for CLI commands that
// operate on the running configuration.
func (d *Daemon) Account(ctx context.Context) (domain.Account, bool) {
	return d.auth.Current(ctx)
}
