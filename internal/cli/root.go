// Package cli implements the yieldloop command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yieldloop/yieldloop/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "yieldloop",
	Short: "Local balance engine for the yieldloop dashboard",
	Long: `yieldloop runs the local balance engine: it produces session gains on a
schedule, enforces daily limits and dormancy decay, reconciles the local
ledger with the balance service, and serves the dashboard API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+daemon.ConfigPath()+")")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the --config flag and loads the file.
func loadConfig() (daemon.Config, error) {
	path := configPath
	if path == "" {
		path = daemon.ConfigPath()
	}
	return daemon.Load(path)
}
