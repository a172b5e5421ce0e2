package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/swingtrader/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status and health of a running engine",
	Long: `Query the HTTP API of a running swingtrader.

Example:
  swingtrader status --server http://localhost:8080`,
	RunE: runStatus,
}

var statusServer string

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusServer, "server", "s", "http://localhost:8080", "base URL of the swingtrader API")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client := resty.New().SetBaseURL(statusServer).SetTimeout(10 * time.Second)

	var st engine.Status
	resp, err := client.R().SetContext(ctx).SetResult(&st).Get("/api/status")
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("query status: %s", resp.Status())
	}

	var hl engine.Health
	// 503 still carries the health body
	if _, err := client.R().SetContext(ctx).SetResult(&hl).SetError(&hl).Get("/api/health"); err != nil {
		return fmt.Errorf("query health: %w", err)
	}

	printStatus(cmd.OutOrStdout(), st, hl)
	return nil
}

func printStatus(w io.Writer, st engine.Status, hl engine.Health) {
	fmt.Fprintf(w, "State:   %s (rules %s)\n", st.State, st.RulesVersion)
	if st.Running {
		fmt.Fprintf(w, "Uptime:  %s\n", st.Uptime.Round(time.Second))
	}
	fmt.Fprintf(w, "Cycles:  %d completed, %d with errors, avg %s\n",
		st.CyclesCompleted, st.CyclesWithErrors, st.AvgCycleTime.Round(time.Millisecond))
	if st.LastCycleID != "" {
		fmt.Fprintf(w, "Last:    %s at %s\n", st.LastCycleID, st.LastCycleAt.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Error:   %s\n", st.LastError)
	}

	verdict := "healthy"
	if !hl.Healthy {
		verdict = "UNHEALTHY"
	}
	fmt.Fprintf(w, "\nHealth:  %s\n", verdict)
	for _, c := range hl.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %-12s %10.2f", mark, c.Name, c.Value)
		if c.Limit != 0 {
			fmt.Fprintf(w, " / %.2f", c.Limit)
		}
		if c.Message != "" {
			fmt.Fprintf(w, "  %s", c.Message)
		}
		fmt.Fprintln(w)
	}
}
