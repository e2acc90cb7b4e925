package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yieldloop/yieldloop/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("debug", false, "Enable debug logging")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the balance engine daemon",
	Long: `Start the daemon: background production scheduler, reconciliation loop,
midnight housekeeping, and the dashboard HTTP API. Runs until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		log.SetLevel(logrus.DebugLevel)
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
