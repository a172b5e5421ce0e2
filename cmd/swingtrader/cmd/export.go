package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/swingtrader/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export {trades|snapshots}",
	Short: "Export trade history or the equity curve as CSV",
	Long: `Read trades or performance snapshots for the configured portfolio from
the store and write them as CSV.

Examples:
  swingtrader export trades --from 2024-01-01 -o trades.csv
  swingtrader export snapshots --from 2024-06-01 --to 2024-07-01`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"trades", "snapshots"},
	RunE:      runExport,
}

var (
	exportFrom   string
	exportTo     string
	exportOutput string
)

const dateLayout = "2006-01-02"

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFrom, "from", "", "first day to include (YYYY-MM-DD, default 30 days ago)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "day after the last to include (YYYY-MM-DD, default tomorrow)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
}

func exportRange(now time.Time) (from, to time.Time, err error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	from, to = today.AddDate(0, 0, -30), today.AddDate(0, 0, 1)
	if exportFrom != "" {
		if from, err = time.ParseInLocation(dateLayout, exportFrom, time.Local); err != nil {
			return from, to, fmt.Errorf("--from: %w", err)
		}
	}
	if exportTo != "" {
		if to, err = time.ParseInLocation(dateLayout, exportTo, time.Local); err != nil {
			return from, to, fmt.Errorf("--to: %w", err)
		}
	}
	if !from.Before(to) {
		return from, to, fmt.Errorf("--from %s is not before --to %s", from.Format(dateLayout), to.Format(dateLayout))
	}
	return from, to, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	from, to, err := exportRange(time.Now())
	if err != nil {
		return err
	}

	repo, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer repo.Close()

	var w io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		file, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer file.Close()
		w = file
	}

	ctx := cmd.Context()
	id := cfg.Engine.PortfolioID
	switch args[0] {
	case "trades":
		trades, err := repo.ListTrades(ctx, id, from, to)
		if err != nil {
			return fmt.Errorf("list trades: %w", err)
		}
		if err := store.WriteTradesCSV(w, trades); err != nil {
			return err
		}
	case "snapshots":
		snaps, err := repo.ListSnapshots(ctx, id, from, to)
		if err != nil {
			return fmt.Errorf("list snapshots: %w", err)
		}
		if err := store.WriteSnapshotsCSV(w, snaps); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown export %q (want trades or snapshots)", args[0])
	}

	if exportOutput != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %s to %s\n", args[0], exportOutput)
	}
	return nil
}
