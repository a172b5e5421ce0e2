package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swingtrader",
	Short: "A rule-driven swing-trading decision engine",
	Long: `Swingtrader runs a swing-trading decision loop over US equities.

Each cycle it:
  - Screens the guidelines universe and asks an advisor about candidates
  - Validates every proposal against the portfolio risk limits
  - Submits approved orders and applies the fills
  - Enforces stop-loss, profit-target and time-based exits
  - Refreshes portfolio metrics and records performance snapshots

Rules live in a YAML guidelines file that is reloaded when it changes.`,
	SilenceUsage: true,
}

var configPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "swingtrader.yaml", "path to config file (YAML or JSON)")
}
