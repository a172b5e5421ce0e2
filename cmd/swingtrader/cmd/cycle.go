package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/swingtrader/internal/engine"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single trading cycle and exit",
	Long: `Start the engine, execute one buy, sell, exit and metrics cycle,
print the result and stop.

Example:
  swingtrader cycle -c swingtrader.yaml`,
	RunE: runCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}

func runCycle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// a single cycle never runs the background loop
	cfg.Engine.CycleInterval = ""

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer a.engine.Stop()

	res, err := a.engine.ExecuteCycle(ctx)
	if err != nil {
		return err
	}
	printCycle(cmd.OutOrStdout(), res)
	return nil
}

func printCycle(w io.Writer, res engine.CycleResult) {
	mark := "✓"
	if !res.Success {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s Cycle %s (rules %s) in %s\n", mark, res.ID, res.RulesVersion, res.Duration)
	for _, p := range res.Phases {
		fmt.Fprintf(w, "  %-8s signals=%d trades=%d errors=%d\n", p.Name, p.Signals, p.Trades, p.Errors)
	}
	if len(res.Trades) > 0 {
		fmt.Fprintln(w, "\nTrades:")
		for _, t := range res.Trades {
			fmt.Fprintf(w, "  %-4s %-6s %8.0f @ %.2f", t.Action, t.Symbol, t.Quantity, t.Price)
			if t.RealizedPnL != 0 {
				fmt.Fprintf(w, "  P&L $%.2f", t.RealizedPnL)
			}
			fmt.Fprintln(w)
		}
	}
	if len(res.Rejections) > 0 {
		fmt.Fprintln(w, "\nRejected:")
		for _, r := range res.Rejections {
			fmt.Fprintf(w, "  %-4s %-6s [%s] %s\n", r.Action, r.Symbol, r.RiskLevel, r.Reasons)
		}
	}
	if len(res.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, e := range res.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	m := res.Metrics
	fmt.Fprintf(w, "\nPortfolio: $%.2f (cash $%.2f, %d open, daily P&L $%.2f, drawdown %.2f%%)\n",
		m.TotalValue, m.Cash, m.OpenPositions, m.DailyPnL, m.DrawdownPct)
}
