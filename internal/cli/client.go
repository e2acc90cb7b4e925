package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// ─── Daemon client commands ─────────────────────────────────────────────────
// These talk to a running `yieldloop serve` over its local API.

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(withdrawCmd)
	rootCmd.AddCommand(botCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the account balance and quota",
	RunE:  runStatus,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run one manual production session",
	RunE:  runSession,
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Withdraw the full balance",
	RunE:  runWithdraw,
}

var botCmd = &cobra.Command{
	Use:       "bot {on|off}",
	Short:     "Toggle background production",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runBot,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var balance struct {
		Balance        float64 `json:"balance"`
		HighestBalance float64 `json:"highest_balance"`
		DailyGains     float64 `json:"daily_gains"`
		BotActive      bool    `json:"bot_active"`
	}
	if err := callDaemon(http.MethodGet, "/api/balance", nil, &balance); err != nil {
		return err
	}

	var quota struct {
		Limit    float64 `json:"limit"`
		Used     float64 `json:"used"`
		Exceeded bool    `json:"exceeded"`
	}
	if err := callDaemon(http.MethodGet, "/api/quota", nil, &quota); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Balance:      %.2f (peak %.2f)\n", balance.Balance, balance.HighestBalance)
	fmt.Fprintf(os.Stdout, "Today:        %.2f of %.2f", quota.Used, quota.Limit)
	if quota.Exceeded {
		fmt.Fprint(os.Stdout, "  [daily limit reached]")
	}
	fmt.Fprintln(os.Stdout)
	if balance.BotActive {
		fmt.Fprintln(os.Stdout, "Bot:          running")
	} else {
		fmt.Fprintln(os.Stdout, "Bot:          stopped")
	}
	return nil
}

func runSession(cmd *cobra.Command, args []string) error {
	var res struct {
		Gain       float64 `json:"gain"`
		DailyGains float64 `json:"daily_gains"`
	}
	if err := callDaemon(http.MethodPost, "/api/session", nil, &res); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Session complete: +%.2f (%.2f today)\n", res.Gain, res.DailyGains)
	return nil
}

func runWithdraw(cmd *cobra.Command, args []string) error {
	var res struct {
		Amount float64 `json:"amount"`
	}
	if err := callDaemon(http.MethodPost, "/api/withdraw", nil, &res); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Withdrawal of %.2f submitted.\n", res.Amount)
	return nil
}

func runBot(cmd *cobra.Command, args []string) error {
	body := map[string]bool{"active": args[0] == "on"}
	var res struct {
		Active bool `json:"active"`
	}
	if err := callDaemon(http.MethodPost, "/api/bot", body, &res); err != nil {
		return err
	}
	if res.Active {
		fmt.Fprintln(os.Stdout, "Background production enabled.")
	} else {
		fmt.Fprintln(os.Stdout, "Background production disabled.")
	}
	return nil
}

// callDaemon performs one request against the local daemon API.
func callDaemon(method, path string, in, out any) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	base := "http://" + net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))

	var reqBody *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, base+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s (is `yieldloop serve` running?): %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error.Message != "" {
			return fmt.Errorf("%s", errResp.Error.Message)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
