package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/keith/internal/telegraph"
)

var statusHTTPClient = &http.Client{Timeout: 5 * time.Second}

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running keith",
		Long:  "Queries the status endpoint of a running keith and prints connection, manual mode, and delivery queue state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, addr)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&addr, "addr", "", "status endpoint address (default 127.0.0.1:<status.port>)")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath, addr string) error {
	if addr == "" {
		cfg, err := loadConfig(cmd, configPath)
		if err != nil {
			return err
		}
		if cfg.Status.Port <= 0 {
			return fmt.Errorf("status endpoint is disabled; set status.port in %s", configPath)
		}
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.Status.Port)
	}

	resp, err := statusHTTPClient.Get("http://" + addr + "/status")
	if err != nil {
		return fmt.Errorf("keith is not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var st telegraph.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

func printStatus(out io.Writer, st telegraph.Status) {
	state := "disconnected"
	if st.Connected {
		state = "connected"
	}
	fmt.Fprintf(out, "Platform:       %s (%s)\n", st.Platform, state)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(out, "Up since:       %s\n", st.StartedAt.Local().Format(time.RFC1123))
	}
	fmt.Fprintf(out, "Conversations:  %d\n", st.Conversations)
	fmt.Fprintf(out, "Turns running:  %d\n", st.TurnsInFlight)
	fmt.Fprintf(out, "Deliveries:     %d pending\n", st.PendingDeliveries)
	switch {
	case !st.OverrideAvailable:
		fmt.Fprintf(out, "Manual mode:    unavailable\n")
	case st.Override.Active:
		fmt.Fprintf(out, "Manual mode:    active in %s (%s)\n", st.Override.Target, st.OverrideState)
	default:
		fmt.Fprintf(out, "Manual mode:    %s\n", st.OverrideState)
	}
}
