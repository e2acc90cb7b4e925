package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yieldloop/yieldloop/internal/daemon"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with the defaults",
	RunE:  runConfigInit,
}

// starterConfig is written by `config init`. Values match DefaultConfig;
// commented entries show the shape of the optional tier tables.
const starterConfig = `# yieldloop daemon configuration

[api]
host = "127.0.0.1"
port = 7710
metrics_enabled = true

[remote]
base_url = ""   # balance service root, e.g. https://api.example.com/v1
token = ""      # or set YIELDLOOP_REMOTE_TOKEN
timeout = "15s"

[auth]
account_id = "" # or set YIELDLOOP_ACCOUNT_ID
cache_ttl = "1m"

# Per-tier daily limits. Omit to use the built-in table
# (freemium 0.5, starter 5, gold 20, elite 50).
#[limits]
#gold = 20.0

# Per-tier gain ranges for automatic and manual sessions.
#[gains.auto.gold]
#min = 0.20
#max = 0.50

#[gains.manual.gold]
#min = 0.15
#max = 0.40

# Per-tier withdrawal thresholds.
#[withdrawals]
#gold = 100.0

[dormancy]
fee_multiplier = 3.0
# Decay ladder. Omit for the default 30/60/90-day stages.
#[[dormancy.stages]]
#days = 30
#ratio = 0.25

[reconcile]
interval = "30s"
timeout = "15s"

[scheduler]
warmup_delay = "10s"
interval_min = "2m"
interval_max = "3m"

[session]
debounce = "2s"
cooldown = "60s"
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = daemon.ConfigPath()
	}

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Wrote %s\n", path)
	fmt.Fprintln(os.Stdout, "Set remote.base_url and auth.account_id, then run: yieldloop serve")
	return nil
}
