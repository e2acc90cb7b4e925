// Package daemon wires the engines together and runs them.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yieldloop/yieldloop/internal/domain"
)

// Config is the daemon configuration, loaded from
// $YIELDLOOP_HOME/config.toml (default ~/.yieldloop/config.toml).
// Every field has a usable default; a missing file is not an error.
type Config struct {
	API         APIConfig          `toml:"api"`
	Remote      RemoteConfig       `toml:"remote"`
	Auth        AuthConfig         `toml:"auth"`
	Limits      map[string]float64 `toml:"limits"`
	Gains       GainsConfig        `toml:"gains"`
	Withdrawals map[string]float64 `toml:"withdrawals"`
	Dormancy    DormancyConfig     `toml:"dormancy"`
	Reconcile   ReconcileConfig    `toml:"reconcile"`
	Scheduler   SchedulerConfig    `toml:"scheduler"`
	Session     SessionConfig      `toml:"session"`
}

// APIConfig configures the local HTTP API.
type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
}

// RemoteConfig points at the authoritative balance service.
type RemoteConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
	Timeout string `toml:"timeout"`
}

// AuthConfig identifies the account the daemon operates on.
type AuthConfig struct {
	AccountID string `toml:"account_id"`
	CacheTTL  string `toml:"cache_ttl"`
}

// GainsConfig holds the per-tier gain ranges for both production paths.
type GainsConfig struct {
	Auto   map[string]domain.GainRange `toml:"auto"`
	Manual map[string]domain.GainRange `toml:"manual"`
}

// DormancyConfig configures idle-account decay.
type DormancyConfig struct {
	Stages        []DormancyStageConfig `toml:"stages"`
	MonthlyPrices map[string]float64    `toml:"monthly_prices"`
	FeeMultiplier float64               `toml:"fee_multiplier"`
}

// DormancyStageConfig is one decay stage.
type DormancyStageConfig struct {
	Days  int     `toml:"days"`
	Ratio float64 `toml:"ratio"`
}

// ReconcileConfig configures the periodic local/remote sync.
type ReconcileConfig struct {
	Interval string `toml:"interval"`
	Timeout  string `toml:"timeout"`
}

// SchedulerConfig configures the background producer cadence.
type SchedulerConfig struct {
	WarmupDelay string `toml:"warmup_delay"`
	IntervalMin string `toml:"interval_min"`
	IntervalMax string `toml:"interval_max"`
}

// SessionConfig configures the manual session controller.
type SessionConfig struct {
	Debounce string `toml:"debounce"`
	Cooldown string `toml:"cooldown"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           7710,
			MetricsEnabled: true,
		},
		Remote: RemoteConfig{
			Timeout: "15s",
		},
		Auth: AuthConfig{
			CacheTTL: "1m",
		},
		Dormancy: DormancyConfig{
			FeeMultiplier: 3,
		},
		Reconcile: ReconcileConfig{
			Interval: "30s",
			Timeout:  "15s",
		},
		Scheduler: SchedulerConfig{
			WarmupDelay: "10s",
			IntervalMin: "2m",
			IntervalMax: "3m",
		},
		Session: SessionConfig{
			Debounce: "2s",
			Cooldown: "60s",
		},
	}
}

// Home returns the daemon's state directory, creating nothing.
func Home() string {
	if env := os.Getenv("YIELDLOOP_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".yieldloop")
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// LedgerPath returns the sqlite ledger database location.
func LedgerPath() string {
	return filepath.Join(Home(), "ledger.db")
}

// Load reads the config file at path, layered over the defaults. A
// missing file returns pure defaults. Environment variables override the
// remote credentials so tokens can stay out of the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("YIELDLOOP_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("YIELDLOOP_REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}
	if v := os.Getenv("YIELDLOOP_ACCOUNT_ID"); v != "" {
		cfg.Auth.AccountID = v
	}

	return cfg, nil
}

// ─── Typed accessors ────────────────────────────────────────────────────────
// The toml file stores durations and tier tables as strings; these
// convert them into what the engines take, falling back to the engine
// defaults on anything unparseable.

// parseDuration parses s, returning fallback when s is empty or invalid.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// tierTable converts a string-keyed toml table into a tier-keyed map,
// dropping unknown tiers. Returns nil when nothing valid remains, so the
// engine falls back to its own defaults.
func tierTable(m map[string]float64) map[domain.Tier]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[domain.Tier]float64, len(m))
	for k, v := range m {
		tier := domain.Tier(k)
		if tier.Valid() && v > 0 {
			out[tier] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// tierRanges converts a string-keyed gain-range table the same way.
func tierRanges(m map[string]domain.GainRange) map[domain.Tier]domain.GainRange {
	if len(m) == 0 {
		return nil
	}
	out := make(map[domain.Tier]domain.GainRange, len(m))
	for k, v := range m {
		tier := domain.Tier(k)
		if tier.Valid() && v.Min > 0 && v.Max >= v.Min {
			out[tier] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
