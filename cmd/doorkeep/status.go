package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// ServiceStatus holds the probe results for a running service.
type ServiceStatus struct {
	Addr    string `json:"addr"`
	Alive   bool   `json:"alive"`
	Ready   bool   `json:"ready"`
	Metrics bool   `json:"metrics"`
	Error   string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running Doorkeep service",
		Long:  `Probe the observability endpoints of a running Doorkeep service and report liveness and readiness.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "127.0.0.1:9100", "observability address of the running service")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := queryServiceStatus(cfg.addr)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(formatStatusTable(status))
	return nil
}

// queryServiceStatus probes the observability endpoints at addr.
func queryServiceStatus(addr string) ServiceStatus {
	status := ServiceStatus{Addr: addr}
	client := &http.Client{Timeout: 2 * time.Second}

	probe := func(path string) (bool, error) {
		resp, err := client.Get("http://" + addr + path)
		if err != nil {
			return false, err
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusOK, nil
	}

	alive, err := probe("/healthz/liveness")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	status.Alive = alive

	// Readiness and metrics failures are reported, not fatal: the
	// process is up even if its database is not.
	if ready, err := probe("/healthz/readiness"); err == nil {
		status.Ready = ready
	}
	if metrics, err := probe("/metrics"); err == nil {
		status.Metrics = metrics
	}

	return status
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServiceStatus) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ADDR\tALIVE\tREADY\tMETRICS")
	if status.Error != "" {
		_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\n", status.Addr, status.Error)
	} else {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			status.Addr, yesNo(status.Alive), yesNo(status.Ready), yesNo(status.Metrics))
	}

	_ = w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
